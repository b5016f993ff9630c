package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"rehberai/internal/security"
	"rehberai/pkg/auth"
	"rehberai/pkg/domain"
	"rehberai/pkg/store"
)

// CreatedTenant carries the one-time plaintext credential alongside the
// tenant record.
type CreatedTenant struct {
	Tenant    domain.Tenant `json:"tenant"`
	AccessKey string        `json:"accessKey"`
}

// CreateTenant registers a tenant and mints its access key. The returned
// key is "<key_id>.<secret>" and cannot be recovered later.
func (a *App) CreateTenant(name, description string) (CreatedTenant, error) {
	name = security.SanitizeText(name, 120)
	if name == "" {
		return CreatedTenant{}, fmt.Errorf("%w: tenant name required", ErrInvalidInput)
	}
	tenantRecord := domain.Tenant{
		ID:          uuid.NewString(),
		Name:        name,
		Description: security.SanitizeText(description, 500),
		CreatedAt:   time.Now().UTC(),
	}
	keyID, secret, err := auth.NewAccessKey()
	if err != nil {
		return CreatedTenant{}, err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return CreatedTenant{}, err
	}
	if err := a.store.SaveTenant(tenantRecord); err != nil {
		return CreatedTenant{}, fmt.Errorf("save tenant: %w", err)
	}
	if err := a.store.SaveAccessKey(domain.AccessKey{
		ID:         uuid.NewString(),
		TenantID:   tenantRecord.ID,
		KeyID:      keyID,
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return CreatedTenant{}, fmt.Errorf("save access key: %w", err)
	}
	return CreatedTenant{
		Tenant:    tenantRecord,
		AccessKey: keyID + "." + secret,
	}, nil
}

// GetTenantInfo loads a tenant by ID.
func (a *App) GetTenantInfo(tenantID string) (domain.Tenant, error) {
	tenantRecord, ok, err := a.store.GetTenant(tenantID)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("load tenant: %w", err)
	}
	if !ok {
		return domain.Tenant{}, store.ErrNotFound
	}
	return tenantRecord, nil
}

// ListTenants pages through registered tenants.
func (a *App) ListTenants(limit, offset int) ([]domain.Tenant, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return a.store.ListTenants(limit, offset)
}

// DeleteTenant removes a tenant and everything scoped to it.
func (a *App) DeleteTenant(tenantID string) error {
	_, ok, err := a.store.GetTenant(tenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return a.store.DeleteTenant(tenantID)
}

// AddDoc registers a source document for a tenant profile. The file itself
// lives on disk or in object storage; only the reference is stored.
func (a *App) AddDoc(tenantID, profileKey, filePath string) (domain.Doc, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return domain.Doc{}, fmt.Errorf("%w: filepath required", ErrInvalidInput)
	}
	if _, err := a.registry.Profile(tenantID, profileKey); err != nil {
		return domain.Doc{}, err
	}
	name := filepath.Base(filePath)
	doc := domain.Doc{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ProfileKey: profileKey,
		Filepath:   filePath,
		Name:       name,
		Extension:  strings.ToLower(filepath.Ext(name)),
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveDoc(doc); err != nil {
		return domain.Doc{}, fmt.Errorf("save doc: %w", err)
	}
	return doc, nil
}

// ListDocs returns the documents registered for a tenant profile.
func (a *App) ListDocs(tenantID, profileKey string) ([]domain.Doc, error) {
	return a.store.ListDocs(tenantID, profileKey)
}

// DeleteDoc removes a document reference.
func (a *App) DeleteDoc(tenantID, docID string) error {
	_, ok, err := a.store.GetDoc(tenantID, docID)
	if err != nil {
		return fmt.Errorf("load doc: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return a.store.DeleteDoc(tenantID, docID)
}

// Authenticate resolves a presented "<key_id>.<secret>" credential to its
// tenant. Invalid, unknown and expired keys all fail the same way.
func (a *App) Authenticate(presentedKey string) (domain.Tenant, bool, error) {
	keyID, secret, ok := auth.SplitPresentedKey(presentedKey)
	if !ok {
		return domain.Tenant{}, false, nil
	}
	key, found, err := a.store.GetAccessKeyByKeyID(keyID)
	if err != nil {
		return domain.Tenant{}, false, fmt.Errorf("load access key: %w", err)
	}
	if !found {
		return domain.Tenant{}, false, nil
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now().UTC()) {
		return domain.Tenant{}, false, nil
	}
	if !auth.CheckSecret(secret, key.SecretHash) {
		return domain.Tenant{}, false, nil
	}
	tenantRecord, found, err := a.store.GetTenant(key.TenantID)
	if err != nil {
		return domain.Tenant{}, false, fmt.Errorf("load tenant: %w", err)
	}
	if !found {
		return domain.Tenant{}, false, nil
	}
	return tenantRecord, true, nil
}
