// Package rpccache is a key/value cache client for a remote transactional
// engine reachable only through request/response calls.
//
// Components:
//   - gateway: single calls with bounded retry (1s x (attempt+1)^2 between
//     attempts) and fan-out bulk calls behind a completion barrier.
//   - Codec[V]: (de)serializes V <-> []byte.
//   - engine: the server side. Runs every operation as one atomic unit and
//     applies registered processors to single entries.
//   - cdc: change records appended in the same unit as the mutation while
//     the namespace's ENABLE_EVENTS flag is 1, and the consumer that turns
//     them into listener callbacks.
//
// Wiring a client to a remote engine:
//
//	conn, _ := grpc.Dial(grpc.Options{Hosts: []string{"10.0.0.1:7400", "10.0.0.2:7400"}})
//	users, _ := rpccache.New[User](ctx, rpccache.Options[User]{
//	    Namespace: "users",
//	    Conn:      conn,
//	    Codec:     codec.MustCBOR[User](true), // deterministic: CompareAndReplace compares bytes
//	})
//	defer users.Close(ctx)
//
// Compare-and-swap is by value:
//
//	old, _, _ := users.Get(ctx, "u:1")
//	ok, _ := users.CompareAndReplace(ctx, "u:1", old, updated) // false if anyone wrote in between
package rpccache
