package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"dispatch/internal/model"
)

// CollectionDocument is the portable JSON form of a collection.
type CollectionDocument struct {
	Name     string         `json:"name"`
	Requests []SavedRequest `json:"requests"`
}

// SavedRequest is one exported collection item.
type SavedRequest struct {
	Name    string          `json:"name"`
	Method  string          `json:"method"`
	URL     string          `json:"url"`
	Headers model.HeaderSet `json:"headers"`
	Body    string          `json:"body"`
}

// ExportCollection writes the named collection and its items to w.
func (s *SQLiteStorage) ExportCollection(name string, w io.Writer) error {
	col, err := s.GetCollectionByName(name)
	if err != nil {
		return err
	}

	items, err := s.GetCollectionItems(col.ID)
	if err != nil {
		return err
	}

	doc := CollectionDocument{Name: col.Name, Requests: []SavedRequest{}}
	for _, item := range items {
		headers, err := model.DecodeHeaders(item.Headers)
		if err != nil {
			return fmt.Errorf("item %d: %w", item.ID, err)
		}
		doc.Requests = append(doc.Requests, SavedRequest{
			Name:    item.Name,
			Method:  item.Method,
			URL:     item.URL,
			Headers: headers,
			Body:    item.Body,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ImportCollection reads a document from r and stores it in one
// transaction. An existing collection of the same name is extended rather
// than replaced. Nothing is written when any request is invalid.
func (s *SQLiteStorage) ImportCollection(r io.Reader) (model.Collection, int, error) {
	var doc CollectionDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return model.Collection{}, 0, fmt.Errorf("failed to parse collection document: %w", err)
	}
	if doc.Name == "" {
		return model.Collection{}, 0, fmt.Errorf("collection document has no name")
	}

	methods := make([]model.Method, len(doc.Requests))
	for i, req := range doc.Requests {
		m, err := model.ParseMethod(req.Method)
		if err != nil {
			return model.Collection{}, 0, fmt.Errorf("request %d: %w", i, err)
		}
		methods[i] = m
	}

	tx, err := s.db.Begin()
	if err != nil {
		return model.Collection{}, 0, err
	}
	defer tx.Rollback()

	col, err := collectionForImport(tx, doc.Name)
	if err != nil {
		return model.Collection{}, 0, err
	}

	for i, req := range doc.Requests {
		_, err := tx.Exec(`
			INSERT INTO collection_items (collection_id, name, method, url, body, headers)
			VALUES (?, ?, ?, ?, ?, ?)`,
			col.ID, req.Name, methods[i].String(), req.URL, req.Body, model.EncodeHeaders(req.Headers))
		if err != nil {
			return model.Collection{}, 0, fmt.Errorf("request %d: failed to save to collection: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Collection{}, 0, fmt.Errorf("failed to import collection: %w", err)
	}
	return col, len(doc.Requests), nil
}

// collectionForImport finds the named collection or creates it within tx.
func collectionForImport(tx *sql.Tx, name string) (model.Collection, error) {
	col := model.Collection{Name: name}
	err := tx.QueryRow("SELECT id FROM collections WHERE name = ?", name).Scan(&col.ID)
	if err == nil {
		return col, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Collection{}, fmt.Errorf("failed to get collection: %w", err)
	}

	result, err := tx.Exec("INSERT INTO collections (name) VALUES (?)", name)
	if err != nil {
		return model.Collection{}, fmt.Errorf("failed to create collection: %w", err)
	}
	if col.ID, err = result.LastInsertId(); err != nil {
		return model.Collection{}, fmt.Errorf("failed to get collection ID: %w", err)
	}
	return col, nil
}

// ExportCollectionFile is ExportCollection into a file with owner-only
// permissions.
func (s *SQLiteStorage) ExportCollectionFile(name, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, secureFileMode)
	if err != nil {
		return err
	}
	if err := s.ExportCollection(name, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ImportCollectionFile is ImportCollection from a file.
func (s *SQLiteStorage) ImportCollectionFile(path string) (model.Collection, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Collection{}, 0, err
	}
	defer f.Close()
	return s.ImportCollection(f)
}
