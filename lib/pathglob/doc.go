// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathglob provides path-pattern utilities shared by the policy
// compilers: glob-vs-literal classification, ancestor enumeration,
// deepest-literal-prefix extraction for glob patterns, glob-to-regex
// translation for Seatbelt profiles, and runtime pattern matching.
//
// A path-pattern is either a literal absolute path (designating the path
// and all descendants) or a glob containing any of *, ?, [ or **. The
// classification is purely syntactic ([IsGlob]); patterns are used as the
// user wrote them and are never resolved through symlinks.
//
// Ancestor enumeration feeds the macOS rename-defense rules: denying
// file-write-unlink on a protected path is insufficient unless every
// ancestor directory up to / is covered too, since renaming an ancestor
// moves the protected path with it. The Linux jail builder does not
// enumerate ancestors; it binds the protected path read-only, and a
// directory holding a mount point cannot be renamed.
package pathglob
