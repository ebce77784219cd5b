package aresgo

import (
	"expvar"
	"fmt"
)

// getVarInt returns (creating if necessary) an *expvar.Int at a
// aresgo.<base>.<id>.<name> path. Grounded on the teacher's vars.go, which
// is used throughout for per-resolver/per-cache counters; here it backs
// per-server and per-channel dispatch counters.
func getVarInt(base, id, name string) *expvar.Int {
	fullname := fmt.Sprintf("aresgo.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// getVarMap returns (creating if necessary) an *expvar.Map at a
// aresgo.<base>.<id>.<name> path.
func getVarMap(base, id, name string) *expvar.Map {
	fullname := fmt.Sprintf("aresgo.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}
