package sdk

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/mapstructure"
)

// TokenClaims are the attributes the SDK derives from an access token. The
// token is parsed without signature verification: claims only scope client
// behavior, the clinical API re-verifies every token it receives.
type TokenClaims struct {
	Subject     string
	TenantID    string
	Permissions []string
}

// ClaimsDecoder extracts TokenClaims from raw access tokens. Decoding is
// pure CPU work with no network access; results are memoized per raw token
// since the same token is decoded on every session check.
type ClaimsDecoder struct {
	tenantClaim      string
	permissionsClaim string
	parser           *jwt.Parser
	cache            *lru.Cache[string, TokenClaims]
}

const claimsCacheSize = 32

// NewClaimsDecoder builds a decoder reading the tenant id and permission
// list from the named claims.
func NewClaimsDecoder(tenantClaim, permissionsClaim string) *ClaimsDecoder {
	cache, _ := lru.New[string, TokenClaims](claimsCacheSize)
	return &ClaimsDecoder{
		tenantClaim:      tenantClaim,
		permissionsClaim: permissionsClaim,
		parser:           jwt.NewParser(),
		cache:            cache,
	}
}

// Decode parses raw and extracts the tenant id and permission set. A missing
// tenant or permissions claim yields empty values, not an error; only a
// structurally invalid token fails.
func (d *ClaimsDecoder) Decode(raw string) (TokenClaims, error) {
	if raw == "" {
		return TokenClaims{}, nil
	}
	if claims, ok := d.cache.Get(raw); ok {
		return claims, nil
	}

	var mapClaims jwt.MapClaims
	if _, _, err := d.parser.ParseUnverified(raw, &mapClaims); err != nil {
		return TokenClaims{}, fmt.Errorf("parse access token: %w", err)
	}

	claims := TokenClaims{
		Subject:     extractClaimString(mapClaims, "sub"),
		TenantID:    extractClaimString(mapClaims, d.tenantClaim),
		Permissions: extractClaimStrings(mapClaims, d.permissionsClaim),
	}
	d.cache.Add(raw, claims)
	return claims, nil
}

// extractClaimString reads a string claim, returning "" when absent or of
// the wrong type.
func extractClaimString(claims map[string]interface{}, field string) string {
	rawValue, ok := claims[field]
	if !ok {
		return ""
	}
	value, ok := rawValue.(string)
	if !ok {
		return ""
	}
	return value
}

// extractClaimStrings handles both flat string arrays and nested objects
// carrying a "name" field:
//   - Flat arrays: ["read:patients", "write:prescriptions"]
//   - Nested objects: [{"name": "read:patients"}]
func extractClaimStrings(claims map[string]interface{}, field string) []string {
	rawValue, ok := claims[field]
	if !ok {
		// Claim not present - no permissions (user may simply have none).
		return nil
	}

	items, ok := rawValue.([]interface{})
	if !ok {
		return nil
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok {
			result = append(result, str)
		}
	}
	if len(result) > 0 || len(items) == 0 {
		return result
	}

	// Nested form: decode objects and pull the "name" field.
	var objects []map[string]interface{}
	if err := mapstructure.Decode(rawValue, &objects); err != nil {
		return nil
	}
	for _, obj := range objects {
		if val, ok := obj["name"].(string); ok {
			result = append(result, val)
		}
	}
	return result
}
