// Package crud generates a uniform set of REST operations over a persisted
// entity and normalizes the outcome of every operation into a small, fixed
// response vocabulary.
//
// For each enabled operation kind a Registry mounts one http.Handler:
//
//	Kind              | Method | Path   | Success | Empty / absent
//	------------------|--------|--------|---------|---------------------------
//	find_one          | GET    | /{pk}  | 200     | 204
//	find_many         | GET    | /      | 200     | 200 (empty list)
//	upsert_one        | POST   | /      | 201     | 409 on conflict
//	upsert_many       | POST   | /      | 201     | 409 on conflict
//	post_redirect_get | POST   | /      | 303     | 404 if no read route
//	update_one        | PUT    | /{pk}  | 200     | 204
//	update_many       | PUT    | /      | 200     | 204
//	patch_one         | PATCH  | /{pk}  | 200     | 204
//	patch_many        | PATCH  | /      | 200     | 204
//	delete_one        | DELETE | /{pk}  | 200     | 204
//	delete_many       | DELETE | /      | 200     | 204
//
// Every success response carrying data sets the x-total-count header to the
// number of entities in the body.
//
// Statement construction (QueryService) and execution (Session) are supplied
// by the caller; package pgx provides PostgreSQL implementations of both.
//
// Example usage:
//
//	reg, err := crud.NewRegistry(entity, pgx.NewQueryBuilder(table), pgx.SessionFactory(pool),
//		crud.WithAutocommit(true),
//		crud.WithLogger(logger),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	reg.Register(router.Group("/users"))
package crud
