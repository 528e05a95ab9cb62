package coordinate

import "errors"

// errQueryFailed is wrapped into the error Visit returns when no fan-out
// leg produced a decodable response (spec §7 QueryFailed).
var errQueryFailed = errors.New("query failed")
