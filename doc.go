/*
Package confdb implements a hierarchical configuration database: a tree of
path-addressed typed values, read often by many processes and written
rarely by a single writer.

A database is a stack of sources. The first source is usually the
writable user database; the rest are read-only system databases compiled
from directories of keyfiles (see package compiler). A read returns the
value from the first source that has the key. System databases may lock
path prefixes; a locked key cannot be written, and reads of it skip the
user database.

# Storage

Every source is a single immutable index file (package index) that
readers map into memory. The writer never modifies a live file. It builds
the next version in a temporary file, zeroes the header of the current
file in place, and renames the new file over it. A reader that still has
the old file mapped sees the zero header on its next query and reopens
the path. A write that would not change the file leaves it untouched,
including its modification time.

# Writing

Writer owns the user database: OpenWriter takes an advisory lock so that
only one writer exists per database across processes, and the writer
runs one transaction at a time. Each committed transaction is recorded in
the audit log (AuditLog) with the caller's identity and published to a
Hub, which delivers ordered events to subscribers watching a directory.
FileWatcher publishes the same kind of events in processes that only read,
by watching the database files for replacement.

# Paths

Key paths start with a slash and do not end with one (/org/app/key).
Directory paths start and end with a slash (/org/app/). Empty segments are
invalid. Directories are never stored; they exist while some key is under
them.
*/
package confdb
