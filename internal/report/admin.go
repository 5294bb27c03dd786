package report

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts a read-only SQL console over the store under
// /debug/tailsql/. source labels the database in the console, usually its
// file name.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux, source string) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+source, s.db, &tailsql.DBOptions{
		Label: "Tuning runs",
	})

	debug := tsweb.Debugger(mux)
	debug.Handle("tailsql/", "SQL console over exported runs", tsql.NewMux())
	return nil
}
