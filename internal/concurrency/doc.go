// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker pool used by the reactor to run fill and drain cycles off the poll
// loop. Tasks run in submission order across a fixed number of goroutines.
package concurrency
