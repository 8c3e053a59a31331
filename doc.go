// Package optimistic is a client-side object cache and optimistic CRUD layer
// over a remote backend.
//
// Models registered against a Service share one cache. Reads fill views from
// the cache at once and reconcile them in place when the backend answers;
// cached entities keep their identity for the lifetime of their key, so every
// holder of a pointer sees the merged state.
//
// Example: bind a person to a scope
//
//	svc := optimistic.New(optimistic.WithBackend(httpbackend.New(httpbackend.Config{
//		BaseURL: "https://example.com",
//	})))
//	people, _ := optimistic.Register[Person](svc, "/api/people")
//
//	scope := optimistic.NewScope()
//	defer scope.Close()
//	person, err := people.Get(ctx, 123).ToScope(scope, "person").Wait(ctx)
package optimistic
