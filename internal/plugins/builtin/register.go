// Package builtin ships the generic processor and sink plugins that let the
// engine run end to end without site-specific code.
package builtin

import (
	"errors"

	"github.com/JakeFAU/icrawler/internal/plugin"
)

// Plugin identifiers.
const (
	EchoID     = "builtin.Echo"
	JSONListID = "builtin.JSONList"
	LogID      = "builtin.Log"
	RecordID   = "builtin.Record"
)

// Register adds every builtin plugin to r.
func Register(r *plugin.Registry) error {
	return errors.Join(
		r.RegisterProcessor(EchoID, NewEcho),
		r.RegisterProcessor(JSONListID, NewJSONList),
		r.RegisterPipeline(LogID, NewLog),
		r.RegisterPipeline(RecordID, NewRecordPipeline),
	)
}
