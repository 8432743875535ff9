package iodd

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

//go:embed schemas/*.json
var embeddedSchemas embed.FS

// Service hält die Prozessdaten-Schemata aller bekannten Geräte und
// dekodiert Rohdaten anhand der Kennung (VendorID, DeviceID, RevisionID).
type Service struct {
	mu        sync.RWMutex
	schemas   map[uint32][]Schema
	validator *Validator
	logger    *zap.Logger
}

// NewService lädt die eingebetteten Schemata und zusätzlich alle
// *.json Dokumente aus den Suchpfaden. Jedes Dokument wird vor der
// Übernahme gegen das Schema-Schema validiert.
func NewService(searchPaths []string, logger *zap.Logger) (*Service, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	s := &Service{
		schemas:   make(map[uint32][]Schema),
		validator: validator,
		logger:    logger,
	}

	if err := s.loadEmbedded(); err != nil {
		return nil, err
	}
	for _, searchPath := range searchPaths {
		if err := s.loadDir(searchPath); err != nil {
			return nil, err
		}
	}

	logger.Info("IODD schemas loaded", zap.Int("devices", len(s.schemas)))
	return s, nil
}

func (s *Service) loadEmbedded() error {
	entries, err := fs.ReadDir(embeddedSchemas, "schemas")
	if err != nil {
		return fmt.Errorf("failed to list embedded schemas: %w", err)
	}
	for _, entry := range entries {
		data, err := embeddedSchemas.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read embedded schema %s: %w", entry.Name(), err)
		}
		if err := s.Add(data); err != nil {
			return fmt.Errorf("embedded schema %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *Service) loadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read schema %s: %w", path, err)
		}
		if err := s.Add(data); err != nil {
			return fmt.Errorf("schema %s: %w", path, err)
		}
	}
	return nil
}

// Add validiert ein Schema-Dokument und nimmt es in die Lookup-Tabelle auf.
func (s *Service) Add(data []byte) error {
	if err := s.validator.ValidateSchema(data); err != nil {
		return err
	}

	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	s.mu.Lock()
	s.schemas[schema.DeviceID] = append(s.schemas[schema.DeviceID], schema)
	s.mu.Unlock()
	return nil
}

// Lookup sucht das Schema für eine Gerätekennung. VendorID bzw.
// RevisionID 0 im Dokument akzeptieren jeden Wert.
func (s *Service) Lookup(vendorID uint16, deviceID uint32, revisionID uint8) (Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, schema := range s.schemas[deviceID] {
		if schema.VendorID != 0 && schema.VendorID != vendorID {
			continue
		}
		if schema.RevisionID != 0 && schema.RevisionID != revisionID {
			continue
		}
		return schema, true
	}
	return Schema{}, false
}

// InterpretProcessData dekodiert rohe PD-Bytes für das adressierte Gerät.
// Ohne passendes Schema werden die Rohbytes unter "rawProcessData"
// zurückgegeben, damit der Publish-Pfad nie leer ausgeht.
func (s *Service) InterpretProcessData(raw []byte, vendorID uint16, deviceID uint32, revisionID uint8) (map[string]any, map[string]any) {
	schema, ok := s.Lookup(vendorID, deviceID, revisionID)
	if !ok {
		bytesAsInts := make([]int, len(raw))
		for i, b := range raw {
			bytesAsInts[i] = int(b)
		}
		return map[string]any{"rawProcessData": bytesAsInts}, map[string]any{}
	}
	return Decode(schema.Elements, raw)
}
