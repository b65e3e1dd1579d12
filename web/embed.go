// File: web/embed.go
// Package web carries the static chat page served on the relay root.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package web

import _ "embed"

//go:embed index.html
var IndexHTML []byte
