package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "tickflow/config"
	"tickflow/internal/store"
	"tickflow/logger"
	"tickflow/models"
)

// StateRecord is the parquet row for one symbol state snapshot. Nullable
// baselines and percentages map to OPTIONAL columns so a missing baseline
// stays distinguishable from zero in the archive.
type StateRecord struct {
	Symbol     string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradingDay string `parquet:"name=trading_day, type=BYTE_ARRAY, convertedtype=UTF8"`
	Session    string `parquet:"name=session, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`

	Price float64 `parquet:"name=price, type=DOUBLE"`
	Bid   float64 `parquet:"name=bid, type=DOUBLE"`
	Ask   float64 `parquet:"name=ask, type=DOUBLE"`

	YesterdayClose   *float64 `parquet:"name=yesterday_close, type=DOUBLE, repetitiontype=OPTIONAL"`
	PreMarketOpen    *float64 `parquet:"name=pre_market_open, type=DOUBLE, repetitiontype=OPTIONAL"`
	RegularHoursOpen *float64 `parquet:"name=regular_hours_open, type=DOUBLE, repetitiontype=OPTIONAL"`
	PostMarketOpen   *float64 `parquet:"name=post_market_open, type=DOUBLE, repetitiontype=OPTIONAL"`

	PctFromYesterday *float64 `parquet:"name=pct_from_yesterday, type=DOUBLE, repetitiontype=OPTIONAL"`
	PctFromPre       *float64 `parquet:"name=pct_from_pre, type=DOUBLE, repetitiontype=OPTIONAL"`
	PctFromOpen      *float64 `parquet:"name=pct_from_open, type=DOUBLE, repetitiontype=OPTIONAL"`
	PctFromPost      *float64 `parquet:"name=pct_from_post, type=DOUBLE, repetitiontype=OPTIONAL"`
	PctFrom5Min      *float64 `parquet:"name=pct_from_5min, type=DOUBLE, repetitiontype=OPTIONAL"`
	PctFrom15Min     *float64 `parquet:"name=pct_from_15min, type=DOUBLE, repetitiontype=OPTIONAL"`

	HODPrice  *float64 `parquet:"name=hod_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	HODPct    *float64 `parquet:"name=hod_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
	LODPrice  *float64 `parquet:"name=lod_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	LODPct    *float64 `parquet:"name=lod_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
	SpreadPct *float64 `parquet:"name=spread_pct, type=DOUBLE, repetitiontype=OPTIONAL"`

	BaselineGap bool `parquet:"name=baseline_gap, type=BOOLEAN"`
}

// memoryFileWriter adapts a byte buffer to the ParquetFile interface so the
// snapshot can be built in memory before upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)  { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// SnapshotWriter periodically archives every published symbol state as a
// parquet file, partitioned by trading day. The archive is a sequence of
// point-in-time snapshots; files are never rewritten once uploaded.
type SnapshotWriter struct {
	config   *appconfig.Config
	store    *store.Store
	s3Client *s3.Client

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewSnapshotWriter(cfg *appconfig.Config, st *store.Store) (*SnapshotWriter, error) {
	if !cfg.Writer.Snapshots.Enabled {
		return nil, nil
	}

	w := &SnapshotWriter{
		config: cfg,
		store:  st,
		log:    logger.GetLogger(),
	}

	if cfg.Storage.S3.Enabled {
		client, err := newS3Client(context.Background(), cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		w.s3Client = client
	} else {
		if err := os.MkdirAll(filepath.Join(cfg.Storage.Directory, "snapshots"), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
		}
	}

	return w, nil
}

func (w *SnapshotWriter) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("snapshot writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	w.wg.Add(1)
	go w.worker()

	w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{
		"interval_sec": w.config.Writer.Snapshots.IntervalSec,
		"compression":  w.config.Writer.Snapshots.Compression,
		"s3":           w.config.Storage.S3.Enabled,
	}).Info("snapshot writer started")
	return nil
}

func (w *SnapshotWriter) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	w.log.WithComponent("snapshot_writer").Info("snapshot writer stopped")
}

func (w *SnapshotWriter) worker() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(w.config.Writer.Snapshots.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.writeSnapshot(time.Now())
		}
	}
}

func (w *SnapshotWriter) writeSnapshot(now time.Time) {
	states := w.store.AllStates()
	log := w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{
		"symbols": len(states),
	})
	if len(states) == 0 {
		log.Debug("no states to snapshot")
		return
	}

	data, err := w.createParquetFile(states)
	if err != nil {
		log.WithError(err).Error("failed to build snapshot parquet file")
		return
	}

	day := states[0].TradingDay
	name := fmt.Sprintf("states_%s.parquet", now.UTC().Format("20060102150405"))

	if w.s3Client != nil {
		key := fmt.Sprintf("snapshots/trading_day=%s/%s", day, name)
		if prefix := w.config.Storage.S3.Prefix; prefix != "" {
			key = prefix + "/" + key
		}
		if err := w.uploadToS3(key, data); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"bucket": w.config.Storage.S3.Bucket,
				"s3_key": key,
			}).Error("failed to upload snapshot")
			return
		}
		log.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Info("snapshot uploaded")
		return
	}

	path := filepath.Join(w.config.Storage.Directory, "snapshots", name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.WithError(err).Error("failed to write snapshot file")
		return
	}
	log.WithFields(logger.Fields{"path": path, "file_size": len(data)}).Info("snapshot written")
}

func (w *SnapshotWriter) createParquetFile(states []*models.SymbolState) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(StateRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.config.Writer.Snapshots.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, state := range states {
		record := StateRecord{
			Symbol:           state.Symbol,
			TradingDay:       state.TradingDay,
			Session:          state.Session,
			Timestamp:        state.LastUpdated.UnixMilli(),
			Price:            state.Price,
			Bid:              state.Bid,
			Ask:              state.Ask,
			YesterdayClose:   state.YesterdayClose,
			PreMarketOpen:    state.PreMarketOpen,
			RegularHoursOpen: state.RegularHoursOpen,
			PostMarketOpen:   state.PostMarketOpen,
			PctFromYesterday: state.PctFromYesterday,
			PctFromPre:       state.PctFromPre,
			PctFromOpen:      state.PctFromOpen,
			PctFromPost:      state.PctFromPost,
			PctFrom5Min:      state.PctFrom5Min,
			PctFrom15Min:     state.PctFrom15Min,
			HODPrice:         state.HODPrice,
			HODPct:           state.HODPct,
			LODPrice:         state.LODPrice,
			LODPct:           state.LODPct,
			SpreadPct:        state.SpreadPct,
			BaselineGap:      state.BaselineGap,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func (w *SnapshotWriter) uploadToS3(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()
	return uploadObject(ctx, w.s3Client, w.config.Storage.S3.Bucket, key, "application/octet-stream", data)
}
