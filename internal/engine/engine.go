// Package engine wires the leaf components (tracker, peerconn, metadata,
// scheduler) into the flows the CLI subcommands need: discover peers,
// connect to as many as possible in parallel, fetch metadata over
// ut_metadata when starting from a magnet link, and drive a full or
// single-piece download to completion.
package engine

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nayiswftw/Rusbit/internal/config"
	"github.com/nayiswftw/Rusbit/internal/filewriter"
	"github.com/nayiswftw/Rusbit/internal/logger"
	"github.com/nayiswftw/Rusbit/internal/magnet"
	"github.com/nayiswftw/Rusbit/internal/metadata"
	"github.com/nayiswftw/Rusbit/internal/metainfo"
	"github.com/nayiswftw/Rusbit/internal/peerconn"
	"github.com/nayiswftw/Rusbit/internal/peerid"
	"github.com/nayiswftw/Rusbit/internal/progress"
	"github.com/nayiswftw/Rusbit/internal/scheduler"
	"github.com/nayiswftw/Rusbit/internal/session"
	"github.com/nayiswftw/Rusbit/internal/tracker"
)

// dialTimeout is passed to peerconn.Dial, which applies it separately to
// the TCP connect and to the fixed handshake exchange; a peer that misses
// either is abandoned in favor of other candidates.
const dialTimeout = 5 * time.Second

// NewPeerID generates the local peer id from the configured prefix.
func NewPeerID(cfg config.Config) (peerid.ID, error) { return peerid.New(cfg.PeerIDPrefix) }

// Announce tries each tracker URL in order and returns the first
// successful response that reports at least one peer. A magnet link may
// carry several trackers; a .torrent file has exactly one.
func Announce(ctx context.Context, announceURLs []string, infoHash, pid [20]byte, port int, left int64, log logger.Logger) (*tracker.AnnounceResponse, error) {
	var lastErr error
	for _, url := range announceURLs {
		t, err := tracker.NewHTTPTracker(url)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := t.Announce(ctx, tracker.AnnounceRequest{
			InfoHash: infoHash,
			PeerID:   pid,
			Port:     port,
			Left:     left,
		})
		if err != nil {
			log.Debugln("announce to", url, "failed:", err)
			lastErr = err
			continue
		}
		if len(resp.Peers) == 0 {
			lastErr = fmt.Errorf("tracker %s returned no peers", url)
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("engine: no tracker URLs to announce to")
	}
	return nil, lastErr
}

// ConnectPeers dials every address concurrently, bounded by
// maxConnections in flight, and returns a Session for each that
// completes the fixed handshake before ctx is done (the peer's extension
// handshake, if any, is not awaited). Peers that fail to connect are dropped silently;
// the caller decides whether the resulting set is usable.
func ConnectPeers(ctx context.Context, addrs []*net.TCPAddr, infoHash, pid [20]byte, numPieces uint32, metadataSize, maxConnections int, log logger.Logger) []*session.Session {
	if maxConnections <= 0 {
		maxConnections = len(addrs)
	}
	sem := make(chan struct{}, maxConnections)
	resultC := make(chan *session.Session, len(addrs))

	var wg sync.WaitGroup
	for _, addr := range addrs {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			conn, err := peerconn.Dial(addr, infoHash, pid, dialTimeout, metadataSize, logger.ForPeer(addr))
			if err != nil {
				log.Debugln("connect failed:", addr, err)
				return
			}
			sess := session.New(conn, numPieces)
			select {
			case resultC <- sess:
			case <-ctx.Done():
				conn.Close()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultC)
	}()

	sessions := make([]*session.Session, 0, len(addrs))
	for sess := range resultC {
		sessions = append(sessions, sess)
	}
	return sessions
}

// ResolveMagnet announces to the magnet's trackers, connects to peers
// and fetches the info dictionary over ut_metadata from the first peer
// that offers it. The returned MetaInfo carries the magnet's trackers so
// the caller can go on to a normal download.
func ResolveMagnet(ctx context.Context, link *magnet.Link, cfg config.Config, log logger.Logger) (*metainfo.MetaInfo, error) {
	if len(link.Trackers) == 0 {
		return nil, fmt.Errorf("engine: magnet link has no trackers")
	}
	pid, err := NewPeerID(cfg)
	if err != nil {
		return nil, err
	}

	resp, err := Announce(ctx, link.Trackers, link.InfoHash, pid, cfg.ListenPort, 0, log)
	if err != nil {
		return nil, err
	}

	// numPieces is unknown before metadata is fetched; the bitfield
	// isn't used for anything during the metadata exchange itself.
	// metadataSize of 0 means "unknown", matching peerconn.Dial's
	// handling of a magnet-only start.
	sessions := ConnectPeers(ctx, resp.Peers, link.InfoHash, pid, 1, 0, cfg.MaxConnections, log)
	if len(sessions) == 0 {
		return nil, scheduler.ErrPeersExhausted
	}

	var info *metainfo.Info
	var fetchErr error
	for _, sess := range sessions {
		info, fetchErr = metadata.Fetch(sess.Conn, link.InfoHash, log)
		if fetchErr == nil {
			break
		}
		log.Debugln("metadata fetch from", sess.Addr(), "failed:", fetchErr)
	}
	for _, sess := range sessions {
		sess.Conn.Close()
	}
	if info == nil {
		if fetchErr == nil {
			fetchErr = metadata.ErrUnavailable
		}
		return nil, fetchErr
	}

	return &metainfo.MetaInfo{
		AnnounceURL: link.Trackers[0],
		Info:        *info,
		InfoHash:    link.InfoHash,
	}, nil
}

// schedulerConfig builds a scheduler.Config from the user-facing config
// file tunables.
func schedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		PieceTimeout:   time.Duration(cfg.PieceTimeoutSec) * time.Second,
	}
}

// Download runs the full single-file download of mi to dest: announce,
// connect, schedule every piece, verify, write, fsync.
func Download(ctx context.Context, mi *metainfo.MetaInfo, dest string, cfg config.Config, showProgress bool) error {
	log := logger.New("engine")
	pid, err := NewPeerID(cfg)
	if err != nil {
		return err
	}

	resp, err := Announce(ctx, []string{mi.AnnounceURL}, mi.InfoHash, pid, cfg.ListenPort, mi.Info.Length, log)
	if err != nil {
		return err
	}

	writer, err := filewriter.Open(dest, mi.Info.Length, mi.Info.PieceLength)
	if err != nil {
		return err
	}
	defer writer.Close()

	sched := scheduler.New(&mi.Info, writer, schedulerConfig(cfg), log)
	return runScheduled(ctx, sched, resp.Peers, mi, pid, cfg, showProgress, mi.Info.NumPieces, log)
}

// DownloadPiece runs the scheduler constrained to a single piece index,
// writing just that piece's bytes to dest.
func DownloadPiece(ctx context.Context, mi *metainfo.MetaInfo, dest string, index uint32, cfg config.Config, showProgress bool) error {
	if index >= mi.Info.NumPieces {
		return fmt.Errorf("engine: piece index %d out of range (torrent has %d pieces)", index, mi.Info.NumPieces)
	}
	log := logger.New("engine")
	pid, err := NewPeerID(cfg)
	if err != nil {
		return err
	}

	resp, err := Announce(ctx, []string{mi.AnnounceURL}, mi.InfoHash, pid, cfg.ListenPort, mi.Info.Length, log)
	if err != nil {
		return err
	}

	pieceLen := int64(mi.Info.PieceLen(index))
	// A single-piece writer always writes at file offset 0 regardless of
	// the torrent-global piece index: pass pieceLength 0 so the
	// scheduler's index*pieceLength offset formula collapses to 0.
	writer, err := filewriter.Open(dest, pieceLen, 0)
	if err != nil {
		return err
	}
	defer writer.Close()

	sched := scheduler.NewSinglePiece(&mi.Info, writer, index, schedulerConfig(cfg), log)
	return runScheduled(ctx, sched, resp.Peers, mi, pid, cfg, showProgress, 1, log)
}

func runScheduled(ctx context.Context, sched *scheduler.Scheduler, addrs []*net.TCPAddr, mi *metainfo.MetaInfo, pid peerid.ID, cfg config.Config, showProgress bool, totalPieces uint32, log logger.Logger) error {
	sessions := ConnectPeers(ctx, addrs, mi.InfoHash, pid, mi.Info.NumPieces, 0, cfg.MaxConnections, log)
	if len(sessions) == 0 {
		return scheduler.ErrPeersExhausted
	}

	if showProgress {
		tr := progress.New(totalPieces, log)
		sched.OnPieceDone(func(index uint32, n int) { tr.MarkPiece(n) })
		go tr.Run(2 * time.Second)
		defer tr.Stop()
	}

	// Run must be pumping its select loop before AddPeer is called: AddPeer
	// blocks on addPeerC until Run's loop receives from it.
	errC := make(chan error, 1)
	go func() { errC <- sched.Run(ctx) }()

	for _, sess := range sessions {
		sched.AddPeer(sess)
	}
	return <-errC
}
