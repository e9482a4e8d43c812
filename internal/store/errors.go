package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagemill/governor/internal/model"
)

// Constraint names shared by both migrations. Violations are mapped to the
// governance error taxonomy here so callers see one vocabulary regardless of
// driver.
const (
	constraintArtifactPath    = "artifacts_site_path_key"
	constraintArtifactKeyword = "artifacts_site_keyword_key"
	constraintSiloName        = "silos_site_name_key"
	constraintOneActiveJob    = "jobs_one_active_per_artifact"
)

// mapConstraintErr converts a driver-level unique violation into the typed
// structural or state error the engine expects. Non-constraint errors pass
// through unchanged.
func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return violationFor(pgErr.ConstraintName, err)
	}

	// modernc.org/sqlite surfaces unique violations as
	// "constraint failed: UNIQUE constraint failed: <index or columns>".
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		for _, name := range []string{
			constraintArtifactPath, constraintArtifactKeyword,
			constraintSiloName, constraintOneActiveJob,
		} {
			if strings.Contains(msg, name) {
				return violationFor(name, err)
			}
		}
		// Column-based messages (sqlite names inline UNIQUE constraints by
		// column, not index).
		switch {
		case strings.Contains(msg, "artifacts.path"):
			return violationFor(constraintArtifactPath, err)
		case strings.Contains(msg, "artifacts.target_keyword"):
			return violationFor(constraintArtifactKeyword, err)
		case strings.Contains(msg, "silos."):
			return violationFor(constraintSiloName, err)
		case strings.Contains(msg, "jobs."):
			return violationFor(constraintOneActiveJob, err)
		}
	}

	return err
}

func violationFor(constraint string, cause error) error {
	switch constraint {
	case constraintArtifactPath:
		ge := model.NewStructural(model.CodePathNotUnique, "an artifact with this normalized path already exists on the site")
		ge.Err = cause
		return ge
	case constraintArtifactKeyword:
		ge := model.NewStructural(model.CodeKeywordAlreadyBound, "the target keyword is already bound to another artifact")
		ge.Err = cause
		return ge
	case constraintSiloName:
		ge := model.NewStructural(model.CodeSiloNameTaken, "a silo with this name already exists on the site")
		ge.Err = cause
		return ge
	case constraintOneActiveJob:
		ge := model.NewState(model.CodeStateConflict, "a non-terminal job already exists for this artifact")
		ge.Err = cause
		return ge
	}
	return cause
}
