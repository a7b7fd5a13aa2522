package services

import (
	"sort"
	"strings"

	"github.com/sreyakumar/metadata-embeddings/models"
)

// FieldGroup selects which domain-specific sections of a record are embedded.
type FieldGroup int

const (
	// FieldGroupSPIM covers imaging records and is the fallback.
	FieldGroupSPIM FieldGroup = iota
	// FieldGroupPhysio covers behavior and physiology records.
	FieldGroupPhysio
)

func (g FieldGroup) String() string {
	switch g {
	case FieldGroupPhysio:
		return "physio"
	default:
		return "spim"
	}
}

// Fields returns the group-specific field names to embed.
func (g FieldGroup) Fields() []string {
	switch g {
	case FieldGroupPhysio:
		return []string{"rig", "session"}
	default:
		return []string{"instrument", "acquisition"}
	}
}

// GeneralEmbedFields are embedded for every record.
var GeneralEmbedFields = []string{"data_description", "subject", "procedures"}

// physioKeywords mark a physiology record when one of them is directly
// followed by an underscore somewhere in the record name.
var physioKeywords = []string{"behavior", "Other", "FIP", "phys", "HSFP"}

// ClassifyName picks the field group for a record name. Matching is
// case-sensitive; anything that is not physio is SPIM.
func ClassifyName(name string) FieldGroup {
	for _, kw := range physioKeywords {
		if strings.Contains(name, kw+"_") {
			return FieldGroupPhysio
		}
	}
	return FieldGroupSPIM
}

// Partition is the split of a record's top-level fields into embedded
// sections and metadata.
type Partition struct {
	Group          FieldGroup
	EmbedFields    map[string]bool
	MetadataFields map[string]bool
}

// EmbedFieldNames returns the embed fields in sorted order.
func (p Partition) EmbedFieldNames() []string {
	return sortedKeys(p.EmbedFields)
}

// MetadataFieldNames returns the metadata fields in sorted order.
func (p Partition) MetadataFieldNames() []string {
	return sortedKeys(p.MetadataFields)
}

// Classify partitions a record's top-level fields. Every field lands on
// exactly one side; _id is reported as original_id, and the derived
// subject_id and modality are always on the metadata side.
func Classify(doc models.SourceDocument) Partition {
	group := ClassifyName(doc.Name())

	embeddable := make(map[string]bool)
	for _, f := range group.Fields() {
		embeddable[f] = true
	}
	for _, f := range GeneralEmbedFields {
		embeddable[f] = true
	}

	p := Partition{
		Group:          group,
		EmbedFields:    make(map[string]bool),
		MetadataFields: map[string]bool{models.SubjectIDKey: true, models.ModalityKey: true},
	}

	for key := range doc.Fields {
		if key == "_id" {
			p.MetadataFields[models.OriginalIDKey] = true
			continue
		}
		if embeddable[key] {
			p.EmbedFields[key] = true
		} else {
			p.MetadataFields[key] = true
		}
	}
	if doc.ID != nil {
		p.MetadataFields[models.OriginalIDKey] = true
	}

	return p
}

// subjectID reads subject.subject_id, or MissingValue when the section or
// the key is absent.
func subjectID(fields map[string]interface{}) interface{} {
	return nestedOrMissing(fields, "subject", "subject_id")
}

// modality reads data_description.modality, or MissingValue when absent.
func modality(fields map[string]interface{}) interface{} {
	return nestedOrMissing(fields, "data_description", "modality")
}

func nestedOrMissing(fields map[string]interface{}, section, key string) interface{} {
	sec, ok := fields[section].(map[string]interface{})
	if !ok {
		return models.MissingValue
	}
	v, ok := sec[key]
	if !ok || v == nil {
		return models.MissingValue
	}
	return v
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
