package memweave

import "github.com/memweave/memweave/pkg/store"

// Type re-exports for caller convenience

// Memory is re-exported from the store package.
type Memory = store.Memory

// Relationship is re-exported from the store package.
type Relationship = store.Relationship

// RelationType is re-exported from the store package.
type RelationType = store.RelationType

// Relation type constants re-exported from the store package.
const (
	RelationContradicts = store.RelationContradicts
	RelationExtends     = store.RelationExtends
	RelationRelatedTo   = store.RelationRelatedTo
	RelationInferred    = store.RelationInferred
	RelationTemporal    = store.RelationTemporal
	RelationCausal      = store.RelationCausal
)

// Stats is re-exported from the store package.
type Stats = store.Stats
