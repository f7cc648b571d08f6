package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReferencesByCharacter returns the reference set for a character and
// modality, highest quality first.
func (s *Store) ReferencesByCharacter(ctx context.Context, characterID, modality string) ([]CharacterReference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, character_id, modality, asset_ref, quality, embedding, added_by_job, created_at
	     FROM character_references
	     WHERE character_id = ? AND modality = ?
	     ORDER BY quality DESC, id`,
		NormalizeCharacterID(characterID),
		modality,
	)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var refs []CharacterReference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, *ref)
	}
	return refs, rows.Err()
}

// CountReferences returns the reference set size for a character and modality.
func (s *Store) CountReferences(ctx context.Context, characterID, modality string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM character_references WHERE character_id = ? AND modality = ?`,
		NormalizeCharacterID(characterID),
		modality,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count references: %w", err)
	}
	return count, nil
}

// InsertReference adds an embedding to a character's reference set,
// enforcing the capacity cap inside one transaction. When the set is full
// the lowest-quality member is evicted, but only if the candidate scores
// higher; otherwise the candidate is dropped and added reports false.
//
// Callers serialize per character through the scoring manager, but the
// transaction still re-checks so a direct caller cannot overfill the set.
func (s *Store) InsertReference(ctx context.Context, ref *CharacterReference, capacity int) (added bool, err error) {
	if ref == nil {
		return false, fmt.Errorf("reference is nil")
	}
	if capacity <= 0 {
		return false, fmt.Errorf("reference capacity must be positive, got %d", capacity)
	}
	embedding, err := marshalEmbedding(ref.Embedding)
	if err != nil {
		return false, err
	}

	characterID := NormalizeCharacterID(ref.CharacterID)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		added = false

		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM character_references WHERE character_id = ? AND modality = ?`,
			characterID, ref.Modality,
		).Scan(&count); err != nil {
			return fmt.Errorf("count references: %w", err)
		}

		if count >= capacity {
			var lowestID int64
			var lowestQuality float64
			err := tx.QueryRowContext(ctx,
				`SELECT id, quality FROM character_references
	             WHERE character_id = ? AND modality = ?
	             ORDER BY quality, id LIMIT 1`,
				characterID, ref.Modality,
			).Scan(&lowestID, &lowestQuality)
			if err != nil {
				return fmt.Errorf("find lowest reference: %w", err)
			}
			if ref.Quality <= lowestQuality {
				return nil
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM character_references WHERE id = ?`, lowestID,
			); err != nil {
				return fmt.Errorf("evict reference: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO character_references (
	            character_id, modality, asset_ref, quality, embedding, added_by_job, created_at
	        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			characterID,
			ref.Modality,
			ref.AssetRef,
			ref.Quality,
			embedding,
			nullableJobID(ref.AddedByJob),
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert reference: %w", err)
		}
		ref.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if added {
		ref.CharacterID = characterID
		ref.CreatedAt = now
	}
	return added, nil
}

// Characters returns the distinct character ids that have reference sets.
func (s *Store) Characters(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT character_id FROM character_references ORDER BY character_id`)
	if err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanReference(scanner interface{ Scan(dest ...any) error }) (*CharacterReference, error) {
	var (
		ref          CharacterReference
		embeddingRaw string
		addedByJob   sql.NullInt64
		createdRaw   sql.NullString
	)
	if err := scanner.Scan(
		&ref.ID,
		&ref.CharacterID,
		&ref.Modality,
		&ref.AssetRef,
		&ref.Quality,
		&embeddingRaw,
		&addedByJob,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	embedding, err := unmarshalEmbedding(embeddingRaw)
	if err != nil {
		return nil, err
	}
	ref.Embedding = embedding
	if addedByJob.Valid {
		ref.AddedByJob = addedByJob.Int64
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		ref.CreatedAt = created
	}
	return &ref, nil
}

func nullableJobID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
