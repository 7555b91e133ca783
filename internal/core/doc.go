// Package core resolves free-text country names found in a delimited file.
//
// The package holds all domain logic and has no transport dependencies. It
// is used by the HTTP server, the batch CLI and tests alike.
//
// # Pipeline
//
// A run moves through five steps:
//
//  1. [ReadInput] reads the upload, enforcing the size limit, dropping a
//     UTF-8 byte order mark and replacing invalid bytes.
//  2. [Parse] splits the text into headers and [Row] values. The format has
//     no quoting: one record per line, one delimiter, blank lines ignored.
//  3. [ResolveColumn] picks the query column, trying fallbacks in order.
//  4. [Driver.Run] sends each row's query to a [Resolver] from a fixed pool
//     of workers and returns one [Outcome] per row, in row order.
//  5. [Summarize] and [Export] turn the outcomes into counts and a quoted
//     CSV document.
//
// # Outcomes
//
// Every row ends in exactly one of four outcomes: [Success], [NotFound],
// [Error] or [Skipped]. A failing row never stops a run; only cancellation
// does, and a cancelled run returns no outcomes at all.
//
// # Service
//
// [Service] wraps the pipeline for long-lived processes. It bounds
// concurrent runs with a [RunLimiter], broadcasts progress to subscribers,
// records each run in a history store and optionally uploads the export to
// an [ArtifactSink].
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]. Each
// category has a code for support reference:
//
//   - FILE001-FILE004: Input errors (size, empty, encoding, missing file)
//   - COL001: Query column not found
//   - RUN001-RUN006: Run lifecycle (cancelled, busy, unknown, timeout)
//   - RES001: Resolution service unavailable
//   - ART001-ART002: Export storage
package core
