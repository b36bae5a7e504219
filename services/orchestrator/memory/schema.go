// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding answered questions.
const DefaultClassName = "QueryMemory"

// skipVector excludes a property from the question embedding.
func skipVector(vectorizer string) map[string]interface{} {
	return map[string]interface{}{
		vectorizer: map[string]interface{}{"skip": true},
	}
}

// ClassSchema returns the class definition for answered questions.
//
// Only the question text is vectorized, so nearText compares questions
// with questions. The other properties are stored for the prompt and for
// filtering.
func ClassSchema(className, vectorizer string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A question answered by the query service, with its summary and SQL.",
		Vectorizer:  vectorizer,
		ModuleConfig: map[string]interface{}{
			vectorizer: map[string]interface{}{
				"vectorizeClassName": false,
			},
		},
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The user's question",
				Tokenization: "word",
			},
			{
				Name:         "summary",
				DataType:     []string{"text"},
				Description:  "Start of the synthesized answer",
				ModuleConfig: skipVector(vectorizer),
			},
			{
				Name:         "sqlQuery",
				DataType:     []string{"text"},
				Description:  "The SQL that answered the question, if any",
				ModuleConfig: skipVector(vectorizer),
			},
			{
				Name:            "approach",
				DataType:        []string{"text"},
				Description:     "sql_only, crew_only or both",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skipVector(vectorizer),
			},
			{
				Name:            "sessionId",
				DataType:        []string{"text"},
				Description:     "Conversation the question was asked in",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skipVector(vectorizer),
			},
			{
				Name:            "sourceId",
				DataType:        []string{"text"},
				Description:     "Data source the question was asked about",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skipVector(vectorizer),
			},
			{
				Name:         "confidence",
				DataType:     []string{"number"},
				Description:  "Confidence of the synthesized answer",
				ModuleConfig: skipVector(vectorizer),
			},
			{
				Name:         "createdAt",
				DataType:     []string{"date"},
				Description:  "When the answer was recorded",
				ModuleConfig: skipVector(vectorizer),
			},
		},
	}
}

// EnsureSchema creates the memory class when it does not exist yet.
// It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.Schema().ClassGetter().WithClassName(s.config.ClassName).Do(ctx); err == nil {
		slog.Debug("Query memory schema already exists", "class", s.config.ClassName)
		return nil
	}

	slog.Info("Creating query memory schema", "class", s.config.ClassName)
	class := ClassSchema(s.config.ClassName, s.config.Vectorizer)
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create %s schema: %w", s.config.ClassName, err)
	}
	return nil
}
