// Package rest serves the generated CRUD operations of configured tables
// and views over HTTP.
//
// Every resource is mounted below the configured base url:
//
//	Method | Path         | Kind
//	-------|--------------|-------------------------------------------
//	GET    | /things/{pk} | find_one
//	GET    | /things      | find_many (?limit, ?offset, ?order)
//	POST   | /things      | upsert_one, upsert_many or post_redirect_get
//	PUT    | /things/{pk} | update_one
//	PUT    | /things      | update_many
//	PATCH  | /things/{pk} | patch_one
//	PATCH  | /things      | patch_many
//	DELETE | /things/{pk} | delete_one
//	DELETE | /things      | delete_many
//
// Query parameters named after a column filter the affected rows. A plain
// value matches by equality; eq, neq, gt, gte, lt, lte, like, ilike, in and
// is prefixes select another operator, eg ?age=gt.30 or ?id=in.(1,2,3).
// Repeated parameters are combined with AND.
//
// The OpenAPI document of the mounted operations is served at
// <base url>/openapi.json.
//
// Example usage:
//
//	cfg, err := config.Load("pgcrud.yaml", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	server, err := rest.NewServer(ctx, cfg, zap.L())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer server.Shutdown(context.Background())
//	log.Fatal(server.Start())
package rest
