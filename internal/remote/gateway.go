package remote

import "context"

// Mirrored table names as the backend knows them.
const (
	TableHouseholds  = "households"
	TablePartners    = "partners"
	TableTasks       = "tasks"
	TableCompletions = "task_completions"
	TableFavorites   = "favorites"
)

// Filter is a set of column equality constraints for Select.
type Filter map[string]string

// Gateway is the request/response surface of the remote store. dest, where
// present, is a pointer the server's JSON response is decoded into; pass nil
// to discard the response body.
type Gateway interface {
	Insert(ctx context.Context, table string, row, dest any) error
	Update(ctx context.Context, table, id string, patch, dest any) error
	Delete(ctx context.Context, table, id string) error
	Select(ctx context.Context, table string, filter Filter, order string, dest any) error

	// Ping probes reachability. A nil return means the backend answered.
	Ping(ctx context.Context) error
}
