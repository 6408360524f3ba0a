// Package identity derives deterministic identifiers for extracted records.
//
// Ids are content-addressed: the same (kind, region, statute, key) tuple always
// maps to the same UUID, so re-ingesting a document overwrites rather than
// duplicates its rows and vectors.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"geocompliance-backend/models"
)

// Namespace scopes every stable id issued by this service
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://geocompliance.local/records"))

var ErrInvalidRegion = errors.New("invalid region identifier")

var (
	nonAlnum    = regexp.MustCompile(`[^A-Za-z0-9]+`)
	regionIdent = regexp.MustCompile(`^[a-z][a-z0-9_]{0,30}$`)
)

type identityKey struct {
	Kind    models.RecordKind `json:"kind"`
	Region  string            `json:"region"`
	Statute string            `json:"statute"`
	Key     string            `json:"key"`
}

// CanonicalKey returns the RFC 8785 form of the identity tuple
func CanonicalKey(kind models.RecordKind, region, statute, key string) ([]byte, error) {
	raw, err := json.Marshal(identityKey{
		Kind:    kind,
		Region:  strings.ToUpper(strings.TrimSpace(region)),
		Statute: strings.ToUpper(strings.TrimSpace(statute)),
		Key:     strings.TrimSpace(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity key: %w", err)
	}
	return jcs.Transform(raw)
}

// StableID returns the UUIDv5 for a record
func StableID(kind models.RecordKind, region, statute, key string) uuid.UUID {
	canonical, err := CanonicalKey(kind, region, statute, key)
	if err != nil {
		// json.Marshal of plain strings cannot fail; keep the id defined anyway
		canonical = []byte(fmt.Sprintf("%s|%s|%s|%s", kind, region, statute, key))
	}
	return uuid.NewSHA1(Namespace, canonical)
}

// DefinitionID is the stable id of a definition record
func DefinitionID(d models.DefinitionRecord) uuid.UUID {
	return StableID(models.KindDefinition, d.Region, d.Statute, d.Term)
}

// RegulationID is the stable id of a regulation record
func RegulationID(r models.RegulationRecord) uuid.UUID {
	return StableID(models.KindRegulation, r.Region, r.Statute, r.LawID)
}

// RegulationName builds the human-readable key, e.g. UT_HB311_13_63_101
func RegulationName(region, statute, lawID string) string {
	parts := []string{region, statute, lawID}
	for i, p := range parts {
		p = nonAlnum.ReplaceAllString(strings.TrimSpace(p), "_")
		parts[i] = strings.Trim(strings.ToUpper(p), "_")
	}
	return strings.Join(parts, "_")
}

// DefinitionName builds the key used for definition vectors
func DefinitionName(region, statute, term string) string {
	return RegulationName(region, statute, "DEF_"+term)
}

// RegionIdent validates a region code and returns it as a lower-case SQL identifier
func RegionIdent(region string) (string, error) {
	ident := strings.ToLower(strings.TrimSpace(region))
	if !regionIdent.MatchString(ident) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRegion, region)
	}
	return ident, nil
}
