package service

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

type AuditEvent struct {
	ActorID     uint
	Action      string
	Resource    string
	ResourceID  uint
	Before      any
	After       any
	Description string
	BatchID     string
}

type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEvent) error { return nil }

// GormAuditSink writes events to the audit_logs table.
type GormAuditSink struct {
	db *gorm.DB
}

func NewGormAuditSink(db *gorm.DB) *GormAuditSink {
	return &GormAuditSink{db: db}
}

func (s *GormAuditSink) Record(ctx context.Context, event AuditEvent) error {
	before, err := encodeAuditValue(event.Before)
	if err != nil {
		return err
	}
	after, err := encodeAuditValue(event.After)
	if err != nil {
		return err
	}

	entry := models.AuditLog{
		ActorID:     event.ActorID,
		Action:      event.Action,
		Resource:    event.Resource,
		ResourceID:  event.ResourceID,
		OldValue:    before,
		NewValue:    after,
		Description: event.Description,
		BatchID:     event.BatchID,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func encodeAuditValue(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode audit value: %w", err)
	}
	return string(raw), nil
}
