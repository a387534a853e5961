// Package authority talks to the remote catalogue authority.  The
// authority accepts a request immediately, answering with an opaque log
// identifier, and publishes its judgement later in a result log that must
// be polled.  Nothing in this package touches local state.
package authority

import "github.com/iliyamo/catalogue-reservation/internal/model"

// SubmitRequest is one remote operation to submit.
type SubmitRequest struct {
	Kind      model.ActionKind
	Catalogue model.CatalogueRef
	Level     model.Level
	Note      string
}

// ResultLog is the authority's terminal judgement on a submitted action.
type ResultLog struct {
	LogID    string   `json:"log_id"`
	Result   string   `json:"result"`
	Messages []string `json:"messages,omitempty"`
}

// InternalVersion describes the authority's current internal version of a
// catalogue, including the version content so that a stale local copy can
// be replaced without a second download.
type InternalVersion struct {
	VersionID string `json:"version_id"`
	Version   string `json:"version"`
	Major     bool   `json:"major"`
	Draft     bool   `json:"draft"`
	Payload   []byte `json:"payload"`
}

type submitBody struct {
	Action    string `json:"action"`
	Catalogue string `json:"catalogue"`
	Version   string `json:"version"`
	Level     string `json:"level,omitempty"`
	Note      string `json:"note,omitempty"`
}

type submitAck struct {
	LogID string `json:"log_id"`
	Busy  bool   `json:"busy"`
}

// wireActions maps each kind onto the authority's operation name.
var wireActions = map[model.ActionKind]string{
	model.KindReserve:      "reserve",
	model.KindUnreserve:    "unreserve",
	model.KindPublishMajor: "publishMajor",
	model.KindPublishMinor: "publishMinor",
	model.KindUploadData:   "uploadData",
}
