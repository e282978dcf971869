package services

import (
	_ "embed"
	"strings"

	"github.com/jinzhu/inflection"
	"gopkg.in/yaml.v3"

	"github.com/haoxai/import-engine/pkg/models"
)

//go:embed synonyms.yaml
var synonymsYAML []byte

//go:embed business_keys.yaml
var businessKeysYAML []byte

var (
	columnSynonyms   map[string][]string
	businessKeySpecs []models.BusinessKeySpec
)

func init() {
	if err := yaml.Unmarshal(synonymsYAML, &columnSynonyms); err != nil {
		panic("parse embedded synonyms: " + err.Error())
	}
	if err := yaml.Unmarshal(businessKeysYAML, &businessKeySpecs); err != nil {
		panic("parse embedded business keys: " + err.Error())
	}
}

// synonymsFor returns the curated sheet aliases for a database column.
func synonymsFor(dbColumn string) []string {
	return columnSynonyms[strings.ToLower(dbColumn)]
}

// businessKeysFor returns the business-key candidate columns for a table,
// matching specs by singularized name fragment. Tables without a spec have
// no business key and every incoming row is treated as new.
func businessKeysFor(table string) []string {
	singular := inflection.Singular(strings.ToLower(table))
	for _, spec := range businessKeySpecs {
		if strings.Contains(singular, spec.Table) {
			return spec.Columns
		}
	}
	return nil
}
