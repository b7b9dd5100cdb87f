package cdc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/config"
)

const (
	maxReconnectBackoff     = 30 * time.Second
	initialReconnectBackoff = time.Second
)

// Engine consumes the logical replication stream and feeds decoded row
// changes to the publisher. It owns its replication connection and restarts
// the stream with backoff after failures, resuming from the last LSN the
// slot confirmed.
type Engine struct {
	cfg       config.CDCConfig
	dbCfg     config.DatabaseConfig
	publisher *Publisher

	typeMap   *pgtype.Map
	relations map[uint32]*pglogrepl.RelationMessage
}

// NewEngine creates a replication engine feeding the given publisher
func NewEngine(cfg config.CDCConfig, dbCfg config.DatabaseConfig, publisher *Publisher) *Engine {
	return &Engine{
		cfg:       cfg,
		dbCfg:     dbCfg,
		publisher: publisher,
		typeMap:   pgtype.NewMap(),
		relations: make(map[uint32]*pglogrepl.RelationMessage),
	}
}

// Run streams until the context is canceled. Stream failures broadcast an
// ERROR event to subscribers and trigger a reconnect with exponential
// backoff; the slot's confirmed LSN makes the resume lossless.
func (e *Engine) Run(ctx context.Context) {
	backoff := initialReconnectBackoff

	for {
		start := time.Now()
		err := e.stream(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Replication engine stopped")
			return
		}

		log.Error().Err(err).Dur("backoff", backoff).Msg("Replication stream failed, reconnecting")
		e.publisher.Broadcast(Event{
			Operation: OpError,
			Timestamp: time.Now().UTC(),
			Error:     "change stream interrupted; events may be delayed",
		})

		if time.Since(start) > time.Minute {
			backoff = initialReconnectBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

// stream runs one replication session until it fails or the context ends
func (e *Engine) stream(ctx context.Context) error {
	conn, err := pgconn.Connect(ctx, e.dbCfg.ReplicationConnectionString())
	if err != nil {
		return fmt.Errorf("replication connect: %w", err)
	}
	defer conn.Close(context.Background())

	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return fmt.Errorf("identify system: %w", err)
	}
	log.Info().
		Str("system_id", sysident.SystemID).
		Str("xlogpos", sysident.XLogPos.String()).
		Msg("Replication session established")

	if err := e.ensureSlot(ctx, conn); err != nil {
		return err
	}

	// Starting at zero resumes from the slot's confirmed flush LSN
	startLSN := pglogrepl.LSN(0)
	pluginArgs := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", e.cfg.PublicationName),
	}
	err = pglogrepl.StartReplication(ctx, conn, e.cfg.SlotName, startLSN,
		pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs})
	if err != nil {
		return fmt.Errorf("start replication: %w", err)
	}
	log.Info().
		Str("slot", e.cfg.SlotName).
		Str("publication", e.cfg.PublicationName).
		Msg("Logical replication started")

	return e.receiveLoop(ctx, conn)
}

// ensureSlot creates the replication slot, tolerating an existing one
func (e *Engine) ensureSlot(ctx context.Context, conn *pgconn.PgConn) error {
	_, err := pglogrepl.CreateReplicationSlot(ctx, conn, e.cfg.SlotName, "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateObject {
			log.Debug().Str("slot", e.cfg.SlotName).Msg("Replication slot already exists")
			return nil
		}
		return fmt.Errorf("create replication slot: %w", err)
	}
	log.Info().Str("slot", e.cfg.SlotName).Msg("Replication slot created")
	return nil
}

func (e *Engine) receiveLoop(ctx context.Context, conn *pgconn.PgConn) error {
	standbyInterval := e.cfg.StandbyInterval
	if standbyInterval <= 0 {
		standbyInterval = 10 * time.Second
	}

	clientXLogPos := pglogrepl.LSN(0)
	nextStandbyDeadline := time.Now().Add(standbyInterval)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Now().After(nextStandbyDeadline) {
			err := pglogrepl.SendStandbyStatusUpdate(ctx, conn,
				pglogrepl.StandbyStatusUpdate{WALWritePosition: clientXLogPos})
			if err != nil {
				return fmt.Errorf("standby status update: %w", err)
			}
			nextStandbyDeadline = time.Now().Add(standbyInterval)
		}

		receiveCtx, cancel := context.WithDeadline(ctx, nextStandbyDeadline)
		rawMsg, err := conn.ReceiveMessage(receiveCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			return fmt.Errorf("receive message: %w", err)
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("walsender error: %s", errMsg.Message)
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				return fmt.Errorf("parse keepalive: %w", err)
			}
			if pkm.ServerWALEnd > clientXLogPos {
				clientXLogPos = pkm.ServerWALEnd
			}
			if pkm.ReplyRequested {
				nextStandbyDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				return fmt.Errorf("parse xlog data: %w", err)
			}
			if err := e.handleWALData(xld); err != nil {
				return err
			}
			if pos := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); pos > clientXLogPos {
				clientXLogPos = pos
			}
		}
	}
}

// handleWALData decodes one pgoutput message and publishes the row change
func (e *Engine) handleWALData(xld pglogrepl.XLogData) error {
	logicalMsg, err := pglogrepl.Parse(xld.WALData)
	if err != nil {
		return fmt.Errorf("parse logical message: %w", err)
	}

	switch msg := logicalMsg.(type) {
	case *pglogrepl.RelationMessage:
		e.relations[msg.RelationID] = msg

	case *pglogrepl.InsertMessage:
		rel, ok := e.relations[msg.RelationID]
		if !ok {
			return fmt.Errorf("insert for unknown relation %d", msg.RelationID)
		}
		e.publisher.Publish(Event{
			Schema:    rel.Namespace,
			Table:     rel.RelationName,
			Operation: OpInsert,
			Timestamp: time.Now().UTC(),
			LSN:       xld.WALStart,
			Data:      e.decodeTuple(rel, msg.Tuple),
		})

	case *pglogrepl.UpdateMessage:
		rel, ok := e.relations[msg.RelationID]
		if !ok {
			return fmt.Errorf("update for unknown relation %d", msg.RelationID)
		}
		e.publisher.Publish(Event{
			Schema:    rel.Namespace,
			Table:     rel.RelationName,
			Operation: OpUpdate,
			Timestamp: time.Now().UTC(),
			LSN:       xld.WALStart,
			Data:      e.decodeTuple(rel, msg.NewTuple),
			Old:       e.decodeTuple(rel, msg.OldTuple),
		})

	case *pglogrepl.DeleteMessage:
		rel, ok := e.relations[msg.RelationID]
		if !ok {
			return fmt.Errorf("delete for unknown relation %d", msg.RelationID)
		}
		e.publisher.Publish(Event{
			Schema:    rel.Namespace,
			Table:     rel.RelationName,
			Operation: OpDelete,
			Timestamp: time.Now().UTC(),
			LSN:       xld.WALStart,
			Old:       e.decodeTuple(rel, msg.OldTuple),
		})
	}

	return nil
}

// decodeTuple converts a pgoutput tuple to a column map. Unchanged TOAST
// columns are omitted; columns the type map cannot decode stay as text.
func (e *Engine) decodeTuple(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) map[string]interface{} {
	if tuple == nil {
		return nil
	}

	row := make(map[string]interface{}, len(tuple.Columns))
	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			break
		}
		name := rel.Columns[i].Name

		switch col.DataType {
		case 'n':
			row[name] = nil
		case 'u':
			// unchanged TOAST value, not present in the WAL record
		case 't':
			row[name] = e.decodeColumn(rel.Columns[i].DataType, col.Data)
		}
	}
	return row
}

func (e *Engine) decodeColumn(oid uint32, data []byte) interface{} {
	dt, ok := e.typeMap.TypeForOID(oid)
	if !ok {
		return string(data)
	}
	value, err := dt.Codec.DecodeValue(e.typeMap, oid, pgtype.TextFormatCode, data)
	if err != nil {
		log.Warn().Err(err).Uint32("oid", oid).Msg("Failed to decode replicated column")
		return string(data)
	}
	return value
}
