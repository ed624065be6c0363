// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// maxRecordLine bounds a single exported record line.  DynamoDB items are
// capped at 400KB; the JSON encoding inflates that somewhat.
const maxRecordLine = 4 * 1024 * 1024

// ItemReader is the interface used by the restore engine to pull items
// from an export stream.
type ItemReader interface {
	ReadItem() (item map[string]*dynamodb.AttributeValue, err error)
}

// errMalformedRecord is returned by ItemDecoder.ReadItem for a record that
// could not be parsed.  The reader remains usable; callers count the
// record as failed and continue.
var errMalformedRecord = errorf(KindRecordValidationFailed, "", "malformed record")

// attributeValue mirrors dynamodb.AttributeValue with the json tags used
// by the DYNAMODB_JSON export format.
type attributeValue struct {
	B    []byte                     `json:"B,omitempty"`
	BOOL *bool                      `json:"BOOL,omitempty"`
	BS   [][]byte                   `json:"BS,omitempty"`
	L    []*attributeValue          `json:"L,omitempty"`
	M    map[string]*attributeValue `json:"M,omitempty"`
	N    *string                    `json:"N,omitempty"`
	NS   []*string                  `json:"NS,omitempty"`
	NULL *bool                      `json:"NULL,omitempty"`
	S    *string                    `json:"S,omitempty"`
	SS   []*string                  `json:"SS,omitempty"`
}

func fromAttribute(src *attributeValue) (dst *dynamodb.AttributeValue) {
	if src == nil {
		return nil
	}
	dst = &dynamodb.AttributeValue{
		B:    src.B,
		BOOL: src.BOOL,
		BS:   src.BS,
		N:    src.N,
		NS:   src.NS,
		NULL: src.NULL,
		S:    src.S,
		SS:   src.SS,
	}
	if src.L != nil {
		dst.L = make([]*dynamodb.AttributeValue, len(src.L))
		for i := range src.L {
			dst.L[i] = fromAttribute(src.L[i])
		}
	}
	if src.M != nil {
		dst.M = make(map[string]*dynamodb.AttributeValue)
		for k, v := range src.M {
			dst.M[k] = fromAttribute(v)
		}
	}
	return dst
}

// exportLine is one line of a native export data file.
type exportLine struct {
	Item map[string]*attributeValue `json:"Item"`
}

// ItemDecoder implements ItemReader over the line-delimited DYNAMODB_JSON
// stream produced by native exports.
type ItemDecoder struct {
	scanner *bufio.Scanner
}

// NewItemDecoder creates an ItemDecoder reading from r.
func NewItemDecoder(r io.Reader) *ItemDecoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxRecordLine)
	return &ItemDecoder{scanner: s}
}

// ReadItem returns the next item from the stream.  It returns io.EOF at
// end of stream and errMalformedRecord for an unparseable line; any other
// error is a read failure.
func (d *ItemDecoder) ReadItem() (map[string]*dynamodb.AttributeValue, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec exportLine
		if err := json.Unmarshal(line, &rec); err == nil && rec.Item != nil {
			return convertItem(rec.Item), nil
		}
		// some tooling writes the bare item rather than {"Item": ...}
		var bare map[string]*attributeValue
		if err := json.Unmarshal(line, &bare); err == nil && hasAttrValues(bare) {
			return convertItem(bare), nil
		}
		return nil, errMalformedRecord
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func convertItem(src map[string]*attributeValue) map[string]*dynamodb.AttributeValue {
	item := make(map[string]*dynamodb.AttributeValue, len(src))
	for k, v := range src {
		item[k] = fromAttribute(v)
	}
	return item
}

// hasAttrValues reports whether every attribute in a decoded map holds at
// least one typed value, distinguishing a bare item from the {"Item":...}
// wrapper (whose single "Item" key decodes as an empty attribute).
func hasAttrValues(m map[string]*attributeValue) bool {
	if len(m) == 0 {
		return false
	}
	for _, av := range m {
		if av == nil {
			return false
		}
		if av.B == nil && av.BOOL == nil && av.BS == nil && av.L == nil &&
			av.M == nil && av.N == nil && av.NS == nil && av.NULL == nil &&
			av.S == nil && av.SS == nil {
			return false
		}
	}
	return true
}

// keySchema describes the key attributes restored items must carry.
type keySchema struct {
	hashKey   string
	hashType  string // "S", "N" or "B"
	rangeKey  string
	rangeType string
}

func keySchemaFromTable(t *dynamodb.TableDescription) keySchema {
	types := make(map[string]string, len(t.AttributeDefinitions))
	for _, ad := range t.AttributeDefinitions {
		if ad.AttributeName != nil && ad.AttributeType != nil {
			types[*ad.AttributeName] = *ad.AttributeType
		}
	}
	var ks keySchema
	for _, k := range t.KeySchema {
		name := ""
		if k.AttributeName != nil {
			name = *k.AttributeName
		}
		switch {
		case k.KeyType != nil && *k.KeyType == dynamodb.KeyTypeHash:
			ks.hashKey, ks.hashType = name, types[name]
		case k.KeyType != nil && *k.KeyType == dynamodb.KeyTypeRange:
			ks.rangeKey, ks.rangeType = name, types[name]
		}
	}
	return ks
}

// validate checks that an item carries the table's key attributes with the
// declared types.
func (ks keySchema) validate(item map[string]*dynamodb.AttributeValue) error {
	if err := checkKeyAttr(item, ks.hashKey, ks.hashType); err != nil {
		return err
	}
	if ks.rangeKey != "" {
		return checkKeyAttr(item, ks.rangeKey, ks.rangeType)
	}
	return nil
}

func checkKeyAttr(item map[string]*dynamodb.AttributeValue, name, attrType string) error {
	av, ok := item[name]
	if !ok || av == nil {
		return errorf(KindRecordValidationFailed, "", "record missing key attribute %q", name)
	}
	var present bool
	switch attrType {
	case dynamodb.ScalarAttributeTypeS:
		present = av.S != nil
	case dynamodb.ScalarAttributeTypeN:
		present = av.N != nil
	case dynamodb.ScalarAttributeTypeB:
		present = av.B != nil
	default:
		present = true // unknown schema type; don't reject
	}
	if !present {
		return errorf(KindRecordValidationFailed, "", "record key attribute %q has wrong type (want %s)", name, attrType)
	}
	return nil
}

// keyOf extracts the key attributes from an item for delete requests.
func (ks keySchema) keyOf(item map[string]*dynamodb.AttributeValue) map[string]*dynamodb.AttributeValue {
	key := map[string]*dynamodb.AttributeValue{ks.hashKey: item[ks.hashKey]}
	if ks.rangeKey != "" {
		if av, ok := item[ks.rangeKey]; ok {
			key[ks.rangeKey] = av
		}
	}
	return key
}
