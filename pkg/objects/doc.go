/*
Package objects implements the object layer of spec.md §4.5: files and
directories as block lists addressed through a branch's index, path
resolution component-by-component, and the MultiDir view presented when a
path resolves to more than one branch's entry.

Both files and directories are built on top of Blob, a byte stream
chunked into fixed-size plaintext blocks whose ith Locator is
H(root_id ‖ i). Blob's block 0 carries an 8-byte length prefix, so
reopening either a file or a directory re-reads its size before exposing
content. A File interprets its Blob's bytes as opaque content; a
Directory interprets them as a canonical, name-sorted serialization of
its entry map.
*/
package objects
