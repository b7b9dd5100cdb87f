package cdc

import (
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgqlgate/pgqlgate/internal/config"
)

func testRelation() *pglogrepl.RelationMessage {
	return &pglogrepl.RelationMessage{
		RelationID:   1,
		Namespace:    "public",
		RelationName: "orders",
		Columns: []*pglogrepl.RelationMessageColumn{
			{Name: "order_id", DataType: 23},  // int4
			{Name: "total", DataType: 25},     // text
			{Name: "metadata", DataType: 114}, // json
		},
	}
}

func testEngine() *Engine {
	return NewEngine(config.CDCConfig{
		SlotName:        "pgqlgate_slot",
		PublicationName: "pgqlgate_pub",
	}, config.DatabaseConfig{}, NewPublisher(4, 0))
}

func TestDecodeTuple(t *testing.T) {
	e := testEngine()
	rel := testRelation()

	tuple := &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{
		{DataType: 't', Data: []byte("42")},
		{DataType: 'n'},
		{DataType: 'u'},
	}}

	row := e.decodeTuple(rel, tuple)
	require.NotNil(t, row)

	assert.Equal(t, int32(42), row["order_id"], "int4 decodes through the type map")

	value, present := row["total"]
	assert.True(t, present)
	assert.Nil(t, value)

	_, present = row["metadata"]
	assert.False(t, present, "unchanged TOAST columns are omitted")
}

func TestDecodeTuple_NilTuple(t *testing.T) {
	e := testEngine()
	assert.Nil(t, e.decodeTuple(testRelation(), nil))
}

func TestDecodeColumn_UnknownOIDFallsBackToText(t *testing.T) {
	e := testEngine()
	value := e.decodeColumn(999999, []byte("raw"))
	assert.Equal(t, "raw", value)
}

func TestHandleWALData_PublishesInsert(t *testing.T) {
	e := testEngine()
	sub := e.publisher.Subscribe("orders")
	defer e.publisher.Shutdown()

	e.relations[1] = testRelation()

	insert := &pglogrepl.InsertMessage{}
	insert.RelationID = 1
	insert.Tuple = &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{
		{DataType: 't', Data: []byte("7")},
		{DataType: 't', Data: []byte("19.99")},
		{DataType: 'n'},
	}}

	// pgoutput Insert: 'I', relation id, 'N', tuple
	err := e.handleWALData(pglogrepl.XLogData{
		WALStart: pglogrepl.LSN(100),
		WALData:  encodeInsert(t, insert),
	})
	require.NoError(t, err)

	event := <-sub.C()
	assert.Equal(t, OpInsert, event.Operation)
	assert.Equal(t, "orders", event.Table)
	assert.Equal(t, pglogrepl.LSN(100), event.LSN)
	assert.Equal(t, int32(7), event.Data["order_id"])
	assert.Equal(t, "19.99", event.Data["total"])
}

func TestHandleWALData_UnknownRelation(t *testing.T) {
	e := testEngine()
	defer e.publisher.Shutdown()

	insert := &pglogrepl.InsertMessage{}
	insert.RelationID = 99
	insert.Tuple = &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{{DataType: 'n'}}}

	err := e.handleWALData(pglogrepl.XLogData{WALData: encodeInsert(t, insert)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown relation")
}

// encodeInsert serializes an insert message the way pgoutput frames it so
// handleWALData exercises the real parser.
func encodeInsert(t *testing.T, msg *pglogrepl.InsertMessage) []byte {
	t.Helper()

	data := []byte{'I'}
	data = append(data,
		byte(msg.RelationID>>24), byte(msg.RelationID>>16), byte(msg.RelationID>>8), byte(msg.RelationID))
	data = append(data, 'N')
	data = append(data, byte(len(msg.Tuple.Columns)>>8), byte(len(msg.Tuple.Columns)))
	for _, col := range msg.Tuple.Columns {
		data = append(data, col.DataType)
		if col.DataType == 't' {
			n := len(col.Data)
			data = append(data, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
			data = append(data, col.Data...)
		}
	}
	return data
}
