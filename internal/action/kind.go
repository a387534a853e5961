package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/catalogue-reservation/internal/model"
)

// kindSpec holds what differs between operation kinds.
type kindSpec struct {
	// forcesEditing grants provisional editing once HIGH polling runs out.
	forcesEditing bool
	// validate rejects requests that can never succeed.
	validate func(r Request) error
	// checkLevel is the level passed to the version check; LevelNone skips it.
	checkLevel func(a *model.PendingAction) model.Level
	// apply mutates the local catalogue after an OK outcome and returns the
	// version the outcome ended up on.
	apply func(ctx context.Context, cats CatalogueStore, a *model.PendingAction) (model.CatalogueRef, error)
}

var kinds = map[model.ActionKind]kindSpec{
	model.KindReserve: {
		forcesEditing: true,
		validate: func(r Request) error {
			if r.Level == model.LevelNone {
				return fmt.Errorf("%w: reservation needs a level", ErrInvalidRequest)
			}
			if strings.TrimSpace(r.Note) == "" {
				return fmt.Errorf("%w: reservation needs a note", ErrInvalidRequest)
			}
			return nil
		},
		checkLevel: func(a *model.PendingAction) model.Level { return a.Level },
		apply: func(ctx context.Context, cats CatalogueStore, a *model.PendingAction) (model.CatalogueRef, error) {
			return a.Catalogue, cats.CreateReservedRecord(ctx, a.Catalogue, a.Level, a.Requester, a.Note)
		},
	},
	model.KindUnreserve: {
		validate:   noLevel,
		checkLevel: noCheck,
		apply: func(ctx context.Context, cats CatalogueStore, a *model.PendingAction) (model.CatalogueRef, error) {
			return a.Catalogue, cats.RemoveReservedRecord(ctx, a.Catalogue)
		},
	},
	model.KindPublishMajor: publishSpec(model.LevelMajor),
	model.KindPublishMinor: publishSpec(model.LevelMinor),
	model.KindUploadData: {
		validate:   noLevel,
		checkLevel: noCheck,
		apply: func(ctx context.Context, cats CatalogueStore, a *model.PendingAction) (model.CatalogueRef, error) {
			return a.Catalogue, nil
		},
	},
}

func noCheck(*model.PendingAction) model.Level { return model.LevelNone }

func noLevel(r Request) error {
	if r.Level != model.LevelNone {
		return fmt.Errorf("%w: %s takes no level, got %s", ErrInvalidRequest, r.Kind, r.Level)
	}
	return nil
}

func publishSpec(level model.Level) kindSpec {
	return kindSpec{
		validate: func(r Request) error {
			if r.Level != level {
				return fmt.Errorf("%w: %s publish with level %s", ErrInvalidRequest, level, r.Level)
			}
			return nil
		},
		checkLevel: noCheck,
		apply: func(ctx context.Context, cats CatalogueStore, a *model.PendingAction) (model.CatalogueRef, error) {
			return cats.BumpPublishedVersion(ctx, a.Catalogue, level)
		},
	}
}

// PublishKind maps a publish level to its action kind.
func PublishKind(level model.Level) (model.ActionKind, error) {
	switch level {
	case model.LevelMajor:
		return model.KindPublishMajor, nil
	case model.LevelMinor:
		return model.KindPublishMinor, nil
	}
	return "", fmt.Errorf("%w: publish needs a MAJOR or MINOR level", ErrInvalidRequest)
}

// normalize fills in LevelNone for requests that leave the level empty.
func normalize(r Request) Request {
	if r.Level == "" {
		r.Level = model.LevelNone
	}
	return r
}

// specFor expects a normalized request.
func specFor(r Request) (kindSpec, error) {
	spec, ok := kinds[r.Kind]
	if !ok {
		return kindSpec{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	switch r.Level {
	case model.LevelNone, model.LevelMinor, model.LevelMajor:
	default:
		return kindSpec{}, fmt.Errorf("%w: unknown level %q", ErrInvalidRequest, r.Level)
	}
	if r.Catalogue.Code == "" {
		return kindSpec{}, fmt.Errorf("%w: catalogue code is empty", ErrInvalidRequest)
	}
	if r.Requester == "" {
		return kindSpec{}, fmt.Errorf("%w: requester is empty", ErrInvalidRequest)
	}
	return spec, spec.validate(r)
}
