// Package repository implements the façade spec.md §4.9 describes: the
// single entry point a caller (the CLI, or eventually an FFI binding)
// uses to create, open, read, write, and share one repository.
//
// A Repository owns one bbolt file holding the blocks, index_nodes, and
// branches buckets (pkg/block, pkg/index, pkg/branch) plus its own
// metadata bucket (schema version, blind id, encrypted signing key seed).
// Every write goes through the local branch's single write lock
// (pkg/branch's Local.Mutate), so within one process at most one mutation
// is ever in flight per repository.
//
// Path resolution always starts from the merged view across every branch
// this repository has ever accepted a root for (pkg/objects' Resolver).
// The first local write to an entry that currently only lives in another
// branch's view copies that entry's content into the local branch first,
// reusing its RootID so the copy re-encrypts to byte-identical ciphertext
// and costs no extra storage; see mirrorEntry.
package repository
