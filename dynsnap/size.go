// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynsnap

import "github.com/aws/aws-sdk-go/service/dynamodb"

// this is based on https://docs.aws.amazon.com/amazondynamodb/latest/developerguide/WorkingWithTables.html#ItemSizeCalculations
func calcItemSize(item map[string]*dynamodb.AttributeValue) (size int) {
	for k, av := range item {
		size += len(k)
		size += calcAttrSize(av)
	}
	return size
}

func calcAttrSize(av *dynamodb.AttributeValue) (size int) {
	switch {
	case av.B != nil: // binary
		size += len(av.B)

	case av.BOOL != nil: // Bool
		size++

	case av.BS != nil: // binary set
		size += 3
		for _, v := range av.BS {
			size += len(v)
		}

	case av.L != nil: // list of attributes
		size += 3
		for _, v := range av.L {
			size += calcAttrSize(v)
		}

	case av.M != nil: // map of attributes
		size += 3
		for k, v := range av.M {
			size += len(k) + calcAttrSize(v)
		}

	case av.N != nil: // number
		size += len(*av.N)

	case av.NS != nil: // number set
		size += 3
		for _, v := range av.NS {
			size += len(*v)
		}

	case av.NULL != nil: // null
		size++

	case av.S != nil: // string
		size += len(*av.S)

	case av.SS != nil: // string set
		size += 3
		for _, v := range av.SS {
			size += len(*v)
		}
	}
	return size
}

// writeCapacityUnits approximates the write units a batch of put requests
// will consume (one unit per 1KB of item, rounded up per item).
func writeCapacityUnits(reqs []*dynamodb.WriteRequest) (units int64) {
	for _, r := range reqs {
		var size int
		switch {
		case r.PutRequest != nil:
			size = calcItemSize(r.PutRequest.Item)
		case r.DeleteRequest != nil:
			size = calcItemSize(r.DeleteRequest.Key)
		}
		units += int64((size + 1023) / 1024)
	}
	if units < 1 {
		units = 1
	}
	return units
}
