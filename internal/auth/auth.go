/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package auth implements tenant policy enforcement at the queue boundary
// (spec.md §4.6): optional bearer-token identity, permission gates for
// queue submission and admin operations, and pre-enqueue tenant policy
// checks against the registry's per-tenant ceilings.
//
// The claim/permission shape is grounded on legator's
// internal/controlplane/auth.{Permission,RolePermissions,HasPermission},
// cut down from the web-facing role set (fleet/approval/audit/webhook) to
// the two gates spec.md §4.6 actually names: enqueue_jobs and queue_admin.
// Token verification is a minimal HMAC-signed compact token (stdlib
// crypto/hmac + encoding/base64) rather than a full JWT library, since the
// teacher itself authenticates its API surface with a bespoke bearer
// scheme (lgk_... keys validated by KeyStore) and not a JWT dependency.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/swarm1/engine/internal/errs"
	"github.com/swarm1/engine/internal/registry"
)

// Permission gates the two operations spec.md §4.6 names.
type Permission string

const (
	// PermEnqueueJobs is required to submit a job (spec.md §4.6).
	PermEnqueueJobs Permission = "enqueue_jobs"
	// PermQueueAdmin is required for pause/resume/cancel/clean/drain
	// (spec.md §4.6).
	PermQueueAdmin Permission = "queue_admin"
	// PermAdmin grants every permission, mirroring the teacher's
	// "admin" catch-all permission.
	PermAdmin Permission = "admin"
)

// Has reports whether perms grants want, treating PermAdmin as a wildcard.
func Has(perms []Permission, want Permission) bool {
	for _, p := range perms {
		if p == PermAdmin || p == want {
			return true
		}
	}
	return false
}

// Claims is the identity asserted by a bearer token (spec.md §4.6 "a token
// asserting identity and a tenant claim"). AdminTenants lists tenants (or
// "*") the bearer may act on behalf of beyond its own Tenant, mirroring
// spec.md's "or match an administrative superset policy".
type Claims struct {
	Subject      string       `json:"sub"`
	Tenant       string       `json:"tenant"`
	Permissions  []Permission `json:"permissions"`
	AdminTenants []string     `json:"admin_tenants,omitempty"`
	IssuedAt     int64        `json:"iat"`
	ExpiresAt    int64        `json:"exp,omitempty"`
	Issuer       string       `json:"iss,omitempty"`
	Audience     string       `json:"aud,omitempty"`
}

// Verifier checks bearer tokens issued with a shared secret. Enabled only
// when AUTH_REQUIRED=true (spec.md §4.6 "Auth is optional (env flag)").
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier builds a Verifier from the AUTH_JWT_SECRET/AUTH_ISSUER/
// AUTH_AUDIENCE environment values (spec.md §6).
func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, audience: audience}
}

// IssueToken signs claims into a compact "payload.signature" token: the
// JSON claims, base64url-encoded, followed by a base64url HMAC-SHA256
// signature over that encoded payload. Used by tests and by `swarm1
// legator login`-style tooling to mint tokens for AUTH_TOKEN.
func (v *Verifier) IssueToken(claims Claims) (string, error) {
	claims.Issuer = v.issuer
	claims.Audience = v.audience
	if claims.IssuedAt == 0 {
		claims.IssuedAt = time.Now().Unix()
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	sig := v.sign(payload)
	return payload + "." + sig, nil
}

func (v *Verifier) sign(payload string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a bearer token's signature, issuer, audience, and
// expiry, and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: malformed token", errs.ErrPermissionDenied)
	}
	payload, sig := parts[0], parts[1]
	want := v.sign(payload)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return nil, fmt.Errorf("%w: bad signature", errs.ErrPermissionDenied)
	}
	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed payload", errs.ErrPermissionDenied)
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed claims", errs.ErrPermissionDenied)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", errs.ErrPermissionDenied)
	}
	if v.audience != "" && claims.Audience != v.audience {
		return nil, fmt.Errorf("%w: audience mismatch", errs.ErrPermissionDenied)
	}
	if claims.ExpiresAt != 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, fmt.Errorf("%w: token expired", errs.ErrPermissionDenied)
	}
	return &claims, nil
}

// AuthorizeTenant checks that claims may act on behalf of tenant, either
// because it is the claim's own tenant or because an admin-superset claim
// covers it (spec.md §4.6 "the claimed tenant must equal the job's tenant
// (or match an administrative superset policy)").
func AuthorizeTenant(claims *Claims, tenant string) error {
	if claims == nil {
		return fmt.Errorf("%w: no identity asserted", errs.ErrPermissionDenied)
	}
	if claims.Tenant == tenant {
		return nil
	}
	for _, t := range claims.AdminTenants {
		if t == "*" || t == tenant {
			return nil
		}
	}
	return fmt.Errorf("%w: tenant %q not authorized for %q", errs.ErrPermissionDenied, claims.Tenant, tenant)
}

// RequirePermission checks that claims carries perm (spec.md §4.6
// "Permission gates"). When required is false (AUTH_REQUIRED=false),
// nil claims are permitted — the gate is simply disabled.
func RequirePermission(claims *Claims, perm Permission, required bool) error {
	if !required {
		return nil
	}
	if claims == nil || !Has(claims.Permissions, perm) {
		return fmt.Errorf("%w: missing permission %q", errs.ErrPermissionDenied, perm)
	}
	return nil
}

// TenantPolicyCheck carries the pre-enqueue fields checked against a
// tenant's ceiling (spec.md §4.6 "Tenant policy checks (pre-enqueue)").
type TenantPolicyCheck struct {
	Tenant               string
	BudgetUSD            float64
	RequiredCapabilities []string
}

// CheckTenantPolicy rejects a submission whose budget exceeds the
// tenant's ceiling, or whose required capabilities fall outside the
// tenant's allowed set. A tenant with no configured ceiling is
// unrestricted. This is a pure check: the caller is responsible for not
// creating a durable job when it returns an error (spec.md §8 "Enqueue of
// a payload that fails tenant policy never produces a durable job").
func CheckTenantPolicy(bundle *registry.Bundle, check TenantPolicyCheck) error {
	if bundle == nil {
		return nil
	}
	ceiling, ok := bundle.TenantCeilings[check.Tenant]
	if !ok {
		return nil
	}
	if ceiling.BudgetCeilingUSD > 0 && check.BudgetUSD > ceiling.BudgetCeilingUSD {
		return fmt.Errorf("%w: tenant %q budget %.4f exceeds ceiling %.4f",
			errs.ErrTenantPolicyViolation, check.Tenant, check.BudgetUSD, ceiling.BudgetCeilingUSD)
	}
	if len(ceiling.AllowedCapabilities) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(ceiling.AllowedCapabilities))
	for _, c := range ceiling.AllowedCapabilities {
		allowed[c] = true
	}
	for _, c := range check.RequiredCapabilities {
		if !allowed[c] {
			return fmt.Errorf("%w: tenant %q capability %q outside allowed set",
				errs.ErrTenantPolicyViolation, check.Tenant, c)
		}
	}
	return nil
}
