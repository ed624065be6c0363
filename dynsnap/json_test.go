// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

func TestReadItemWrapped(t *testing.T) {
	stream := `{"Item":{"id":{"S":"user-1"},"count":{"N":"42"}}}
{"Item":{"id":{"S":"user-2"},"active":{"BOOL":true}}}
`
	dec := NewItemDecoder(strings.NewReader(stream))

	item, err := dec.ReadItem()
	if err != nil {
		t.Fatal("ReadItem failed", err)
	}
	if aws.StringValue(item["id"].S) != "user-1" || aws.StringValue(item["count"].N) != "42" {
		t.Errorf("unexpected item %v", item)
	}

	item, err = dec.ReadItem()
	if err != nil {
		t.Fatal("ReadItem failed", err)
	}
	if !aws.BoolValue(item["active"].BOOL) {
		t.Errorf("unexpected item %v", item)
	}

	if _, err = dec.ReadItem(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

// Some tooling writes the bare attribute map rather than the {"Item":...}
// wrapper; both forms decode.
func TestReadItemBare(t *testing.T) {
	dec := NewItemDecoder(strings.NewReader(`{"id":{"S":"user-1"},"score":{"N":"7"}}` + "\n"))
	item, err := dec.ReadItem()
	if err != nil {
		t.Fatal("ReadItem failed", err)
	}
	if aws.StringValue(item["id"].S) != "user-1" || aws.StringValue(item["score"].N) != "7" {
		t.Errorf("unexpected item %v", item)
	}
}

func TestReadItemSkipsBlankLines(t *testing.T) {
	dec := NewItemDecoder(strings.NewReader("\n\n" + `{"Item":{"id":{"S":"a"}}}` + "\n\n"))
	if _, err := dec.ReadItem(); err != nil {
		t.Fatal("ReadItem failed", err)
	}
	if _, err := dec.ReadItem(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReadItemMalformed(t *testing.T) {
	stream := `not json at all
{"Item":{"id":{"S":"good"}}}
`
	dec := NewItemDecoder(strings.NewReader(stream))

	_, err := dec.ReadItem()
	if !errors.Is(err, errMalformedRecord) {
		t.Fatalf("expected malformed record error, got %v", err)
	}
	if KindOf(err) != KindRecordValidationFailed {
		t.Errorf("unexpected kind %q", KindOf(err))
	}

	// the decoder stays usable after a bad record
	item, err := dec.ReadItem()
	if err != nil {
		t.Fatal("ReadItem failed after malformed line", err)
	}
	if aws.StringValue(item["id"].S) != "good" {
		t.Errorf("unexpected item %v", item)
	}
}

func TestReadItemNestedTypes(t *testing.T) {
	line := `{"Item":{"id":{"S":"a"},"tags":{"L":[{"S":"x"},{"N":"1"}]},"meta":{"M":{"k":{"S":"v"}}},"none":{"NULL":true}}}`
	dec := NewItemDecoder(strings.NewReader(line + "\n"))
	item, err := dec.ReadItem()
	if err != nil {
		t.Fatal("ReadItem failed", err)
	}
	if len(item["tags"].L) != 2 || aws.StringValue(item["tags"].L[1].N) != "1" {
		t.Errorf("unexpected list %v", item["tags"])
	}
	if aws.StringValue(item["meta"].M["k"].S) != "v" {
		t.Errorf("unexpected map %v", item["meta"])
	}
	if !aws.BoolValue(item["none"].NULL) {
		t.Errorf("unexpected null %v", item["none"])
	}
}

func testKeySchema() keySchema {
	return keySchema{hashKey: "pk", hashType: "S", rangeKey: "sk", rangeType: "N"}
}

var validateTests = []struct {
	name string
	item map[string]*dynamodb.AttributeValue
	ok   bool
}{
	{
		"valid",
		map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String("a")},
			"sk": {N: aws.String("1")},
		},
		true,
	},
	{
		"missing hash key",
		map[string]*dynamodb.AttributeValue{
			"sk": {N: aws.String("1")},
		},
		false,
	},
	{
		"missing range key",
		map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String("a")},
		},
		false,
	},
	{
		"hash key wrong type",
		map[string]*dynamodb.AttributeValue{
			"pk": {N: aws.String("1")},
			"sk": {N: aws.String("1")},
		},
		false,
	},
	{
		"range key wrong type",
		map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String("a")},
			"sk": {S: aws.String("b")},
		},
		false,
	},
}

func TestKeySchemaValidate(t *testing.T) {
	ks := testKeySchema()
	for _, test := range validateTests {
		err := ks.validate(test.item)
		if test.ok && err != nil {
			t.Errorf("%s: unexpected error %v", test.name, err)
		}
		if !test.ok {
			if err == nil {
				t.Errorf("%s: expected validation error", test.name)
			} else if KindOf(err) != KindRecordValidationFailed {
				t.Errorf("%s: unexpected kind %q", test.name, KindOf(err))
			}
		}
	}
}

func TestKeySchemaHashOnly(t *testing.T) {
	ks := keySchema{hashKey: "pk", hashType: "S"}
	item := map[string]*dynamodb.AttributeValue{
		"pk":    {S: aws.String("a")},
		"other": {S: aws.String("b")},
	}
	if err := ks.validate(item); err != nil {
		t.Error("unexpected error", err)
	}
	key := ks.keyOf(item)
	if len(key) != 1 || aws.StringValue(key["pk"].S) != "a" {
		t.Errorf("unexpected key %v", key)
	}
}

func TestKeySchemaFromTable(t *testing.T) {
	desc := &dynamodb.TableDescription{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("sk"), AttributeType: aws.String("N")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: aws.String(dynamodb.KeyTypeHash)},
			{AttributeName: aws.String("sk"), KeyType: aws.String(dynamodb.KeyTypeRange)},
		},
	}
	ks := keySchemaFromTable(desc)
	if ks.hashKey != "pk" || ks.hashType != "S" || ks.rangeKey != "sk" || ks.rangeType != "N" {
		t.Errorf("unexpected schema %+v", ks)
	}
}
