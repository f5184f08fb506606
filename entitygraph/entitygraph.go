// Package entitygraph implements the entity/relationship extractor (C7)
// and contradiction detection supplemented from original_source's
// data_quality.py (dropped by the spec distillation but present in the
// original backend).
//
// Grounded on the teacher's graph/builder.go two-stage LLM extraction
// (entityExtractionPrompt / relationshipExtractionPrompt) and its
// exact-match-then-merge dedup idiom; entity/relationship types are
// generalized from the teacher's single-tenant graph into matter-scoped
// storage.Entity / storage.EntityRelationship.
package entitygraph

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/brunobiangulo/ldip/storage"
)

const entityExtractionPrompt = `Extract named entities from the following legal document chunk.
Entity types: PERSON, ORG, INSTITUTION, ASSET.
Return JSON: {"entities": [{"canonical_name", "entity_type", "aliases": [], "mentions": [{"raw_text","context"}]}]}

Text:
`

// ExtractedEntity is one LLM-reported entity before matter-scoped dedup.
type ExtractedEntity struct {
	CanonicalName string
	EntityType    storage.EntityType
	Aliases       []string
	Mentions      []ExtractedMention
}

// ExtractedMention is a raw occurrence of an entity within a chunk.
type ExtractedMention struct {
	RawText string
	Context string
}

// ExtractEntities runs the entity-extraction LLM pass over one chunk.
func ExtractEntities(ctx context.Context, llm storage.LLM, chunkText string) ([]ExtractedEntity, error) {
	resp, err := llm.Generate(ctx, entityExtractionPrompt+chunkText, "")
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(resp) {
		return nil, nil
	}
	arr := gjson.Get(resp, "entities")
	if !arr.IsArray() {
		return nil, nil
	}
	var out []ExtractedEntity
	for _, item := range arr.Array() {
		var aliases []string
		for _, a := range item.Get("aliases").Array() {
			aliases = append(aliases, a.String())
		}
		var mentions []ExtractedMention
		for _, m := range item.Get("mentions").Array() {
			mentions = append(mentions, ExtractedMention{RawText: m.Get("raw_text").String(), Context: m.Get("context").String()})
		}
		out = append(out, ExtractedEntity{
			CanonicalName: item.Get("canonical_name").String(),
			EntityType:    storage.EntityType(strings.ToUpper(item.Get("entity_type").String())),
			Aliases:       aliases,
			Mentions:      mentions,
		})
	}
	return out, nil
}

// DedupeAndPersist resolves each extracted entity against the matter's
// existing entities by (canonical_name, entity_type), case-insensitively:
// not found -> insert; found -> merge aliases and increment mention_count.
// Mentions are always inserted, regardless of whether the entity itself
// was new.
func DedupeAndPersist(ctx context.Context, meta storage.MetaStore, matterID, chunkID string, extracted []ExtractedEntity) error {
	for _, ee := range extracted {
		existing, err := meta.FindEntity(ctx, matterID, strings.ToLower(ee.CanonicalName), ee.EntityType)
		if err != nil {
			return err
		}

		var entityID string
		if existing == nil {
			entityID, err = meta.InsertEntity(ctx, storage.Entity{
				MatterID:      matterID,
				CanonicalName: ee.CanonicalName,
				EntityType:    ee.EntityType,
				Aliases:       ee.Aliases,
				MentionCount:  len(ee.Mentions),
			})
			if err != nil {
				return err
			}
		} else {
			entityID = existing.ID
			existing.Aliases = mergeAliases(existing.Aliases, ee.Aliases)
			existing.MentionCount += len(ee.Mentions)
			if err := meta.UpdateEntity(ctx, *existing); err != nil {
				return err
			}
		}

		for _, m := range ee.Mentions {
			if err := meta.InsertEntityMention(ctx, storage.EntityMention{
				MatterID: matterID, EntityID: entityID, ChunkID: chunkID,
				RawText: m.RawText, Context: m.Context,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func mergeAliases(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string{}, existing...)
	for _, a := range existing {
		seen[strings.ToLower(a)] = true
	}
	for _, a := range incoming {
		if !seen[strings.ToLower(a)] {
			seen[strings.ToLower(a)] = true
			out = append(out, a)
		}
	}
	return out
}

// ExtractedRelationship is one LLM-reported edge before resolution to IDs.
type ExtractedRelationship struct {
	SourceName   string
	TargetName   string
	RelationType storage.RelationType
	Confidence   float64
}

// ExtractRelationships runs the relationship-extraction LLM pass.
// Relationships only ever link entities already resolved within the same
// matter — there is no code path through which a caller could supply an
// entity ID from a different matter, so cross-matter edges are
// impossible by construction.
func ExtractRelationships(ctx context.Context, llm storage.LLM, entityNames []string, chunkText string) ([]ExtractedRelationship, error) {
	resp, err := llm.Generate(ctx, buildRelationshipPrompt(entityNames, chunkText), "")
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(resp) {
		return nil, nil
	}
	arr := gjson.Get(resp, "relationships")
	if !arr.IsArray() {
		return nil, nil
	}
	var out []ExtractedRelationship
	for _, item := range arr.Array() {
		out = append(out, ExtractedRelationship{
			SourceName:   item.Get("source").String(),
			TargetName:   item.Get("target").String(),
			RelationType: storage.RelationType(strings.ToUpper(item.Get("relation_type").String())),
			Confidence:   item.Get("confidence").Num,
		})
	}
	return out, nil
}

func buildRelationshipPrompt(entityNames []string, chunkText string) string {
	var b strings.Builder
	b.WriteString("Given the following entities extracted from a legal document, identify\n")
	b.WriteString("directed relationships between them.\n")
	b.WriteString("Relation types: HAS_ROLE, ALIAS_OF, RELATED_TO.\n")
	b.WriteString(`Return JSON: {"relationships": [{"source","target","relation_type","confidence"}]}`)
	b.WriteString("\n\nEntities: ")
	b.WriteString(strings.Join(entityNames, ", "))
	b.WriteString("\nText:\n")
	b.WriteString(chunkText)
	return b.String()
}
