package model

import "time"

// ForcedGrant represents provisional write access to a catalogue version
// while its reservation is still unresolved at the authority.  Grants
// keep editors productive during long authority delays and are revoked
// as soon as the outcome is known.
//
// Fields:
//
//	Catalogue – catalogue version the grant applies to.
//	Requester – user allowed to edit.
//	Level     – reservation level the grant stands in for.
//	GrantedAt – when the grant was issued.
type ForcedGrant struct {
	Catalogue CatalogueRef
	Requester string
	Level     Level
	GrantedAt time.Time
}
