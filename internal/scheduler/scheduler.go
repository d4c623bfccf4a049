// Package scheduler is the central download coordinator: a single
// goroutine that owns all piece state and is the linearization point
// for piece-completion events, driven by peer messages fanned in over
// channels.
package scheduler

import (
	"context"
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/btree"

	"github.com/nayiswftw/Rusbit/internal/bitfield"
	"github.com/nayiswftw/Rusbit/internal/filewriter"
	"github.com/nayiswftw/Rusbit/internal/logger"
	"github.com/nayiswftw/Rusbit/internal/metainfo"
	"github.com/nayiswftw/Rusbit/internal/peerprotocol"
	"github.com/nayiswftw/Rusbit/internal/piece"
	"github.com/nayiswftw/Rusbit/internal/session"
)

// ErrPeersExhausted is returned when every peer has disconnected before
// the download completed.
var ErrPeersExhausted = errors.New("scheduler: peer set exhausted before completion")

// PieceVerificationError reports that a piece failed hash verification
// Config.MaxRetries times.
type PieceVerificationError struct{ Index uint32 }

func (e *PieceVerificationError) Error() string {
	return fmt.Sprintf("scheduler: piece %d failed verification too many times", e.Index)
}

// TimeoutError reports a scoped, unrecoverable timeout.
type TimeoutError struct{ Scope string }

func (e *TimeoutError) Error() string { return "scheduler: timeout: " + e.Scope }

// Config holds the scheduler's tunables.
type Config struct {
	MaxRetries     int
	RequestTimeout time.Duration
	PieceTimeout   time.Duration
}

// DefaultConfig returns reasonable defaults for interactive use.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, RequestTimeout: 10 * time.Second, PieceTimeout: 30 * time.Second}
}

type pieceRecord struct {
	state        piece.State
	buf          []byte
	done         []bool // per-block completion, indexed like blocks
	blocks       []piece.Block
	inFlight     map[session.Block]*inflightBlock
	retries      int
	lastProgress time.Time
	skipped      bool // download-piece mode: pieces outside the target
}

type inflightBlock struct {
	sess      *session.Session
	requestAt time.Time
}

// pieceAvailItem orders pieces by (availability, index) ascending, so an
// in-order btree walk visits rarest-first with lowest-index tiebreaking.
type pieceAvailItem struct {
	availability int
	index        uint32
}

func (a pieceAvailItem) Less(than btree.Item) bool {
	b := than.(pieceAvailItem)
	if a.availability != b.availability {
		return a.availability < b.availability
	}
	return a.index < b.index
}

// Scheduler drives block requests across a peer set to completion.
type Scheduler struct {
	info   *metainfo.Info
	writer *filewriter.FileWriter
	log    logger.Logger
	cfg    Config

	onPieceDone func(index uint32, n int)

	pieces []pieceRecord

	peers map[*session.Session]struct{}

	rarity       *btree.BTree
	availability []int
	rarityItem   []pieceAvailItem

	remaining int // pieces not yet Complete/skipped
	err       error // set by fatal, checked by Run after each event

	eventC   chan peerEvent
	addPeerC chan *session.Session
	stopC    chan struct{}
}

type peerEvent struct {
	sess *session.Session
	msg  any // nil means the peer's message stream ended
}

// New builds a Scheduler for a full download. writer must already be
// opened at the torrent's total length.
func New(info *metainfo.Info, writer *filewriter.FileWriter, cfg Config, log logger.Logger) *Scheduler {
	s := newScheduler(info, writer, cfg, log)
	s.remaining = int(info.NumPieces)
	return s
}

// NewSinglePiece builds a Scheduler constrained to a single piece index:
// every other piece is marked skipped so completion fires once the
// target piece verifies.
func NewSinglePiece(info *metainfo.Info, writer *filewriter.FileWriter, target uint32, cfg Config, log logger.Logger) *Scheduler {
	s := newScheduler(info, writer, cfg, log)
	for i := range s.pieces {
		if uint32(i) != target {
			s.pieces[i].skipped = true
			s.pieces[i].state = piece.Complete
		}
	}
	s.remaining = 1
	return s
}

func newScheduler(info *metainfo.Info, writer *filewriter.FileWriter, cfg Config, log logger.Logger) *Scheduler {
	n := int(info.NumPieces)
	s := &Scheduler{
		info:         info,
		writer:       writer,
		log:          log,
		cfg:          cfg,
		pieces:       make([]pieceRecord, n),
		peers:        make(map[*session.Session]struct{}),
		rarity:       btree.New(32),
		availability: make([]int, n),
		rarityItem:   make([]pieceAvailItem, n),
		eventC:       make(chan peerEvent, 64),
		addPeerC:     make(chan *session.Session),
		stopC:        make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		pl := info.PieceLen(uint32(i))
		s.pieces[i] = pieceRecord{
			state:  piece.Pending,
			buf:    make([]byte, pl),
			blocks: piece.Blocks(pl),
		}
		s.pieces[i].done = make([]bool, len(s.pieces[i].blocks))
		item := pieceAvailItem{availability: 0, index: uint32(i)}
		s.rarityItem[i] = item
		s.rarity.ReplaceOrInsert(item)
	}
	return s
}

// OnPieceDone registers a callback invoked synchronously from the run
// loop whenever a piece verifies and is written; used to drive
// internal/progress without giving the tracker access to scheduler
// internals.
func (s *Scheduler) OnPieceDone(fn func(index uint32, n int)) { s.onPieceDone = fn }

// AddPeer registers a ready peer session (past handshake + extension
// handshake) and starts forwarding its messages into the run loop.
// Run must already be executing in its own goroutine before AddPeer is
// called: AddPeer rendezvous on addPeerC with Run's select loop and
// blocks until Run (or a stop) receives it.
func (s *Scheduler) AddPeer(sess *session.Session) {
	select {
	case s.addPeerC <- sess:
	case <-s.stopC:
		return
	}
	go func() {
		for {
			select {
			case msg, ok := <-sess.Conn.Messages():
				if !ok {
					select {
					case s.eventC <- peerEvent{sess: sess, msg: nil}:
					case <-s.stopC:
					}
					return
				}
				select {
				case s.eventC <- peerEvent{sess: sess, msg: msg}:
				case <-s.stopC:
					return
				}
			case <-s.stopC:
				return
			}
		}
	}()
}

// Run executes the scheduling loop until every piece completes or a
// fatal error occurs. Callers that also call AddPeer must run Run in
// its own goroutine first, since AddPeer blocks until Run's loop is
// pumping.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopC)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		if s.err != nil {
			return s.err
		}
		if s.remaining == 0 {
			return s.finish()
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return &TimeoutError{Scope: "download"}
			}
			return ctx.Err()
		case sess := <-s.addPeerC:
			s.peers[sess] = struct{}{}
			s.sendInterestedIfEligible(sess)
		case ev := <-s.eventC:
			if ev.msg == nil {
				s.disconnect(ev.sess, fmt.Errorf("scheduler: connection closed"))
			} else {
				s.handleMessage(ev.sess, ev.msg)
			}
		case <-ticker.C:
			s.checkTimeouts()
		}
		if s.err != nil {
			return s.err
		}
		if len(s.peers) == 0 && s.remaining > 0 {
			return ErrPeersExhausted
		}
		s.assignWork()
	}
}

func (s *Scheduler) finish() error {
	if err := s.writer.Sync(); err != nil {
		return err
	}
	for sess := range s.peers {
		sess.Conn.Close()
	}
	return nil
}

func (s *Scheduler) disconnect(sess *session.Session, cause error) {
	s.log.Debugln("peer disconnected:", sess.Addr(), cause)
	delete(s.peers, sess)
	for b := range sess.InFlight {
		s.requeueBlock(b)
	}
	for i := 0; i < int(s.info.NumPieces); i++ {
		if sess.Has(uint32(i)) {
			s.updateAvailability(uint32(i), -1)
		}
	}
}

func (s *Scheduler) requeueBlock(b session.Block) {
	pr := &s.pieces[b.Index]
	delete(pr.inFlight, b)
	idx := blockIndex(pr.blocks, b.Begin)
	if idx >= 0 {
		pr.done[idx] = false
	}
	if pr.state == piece.InFlight && len(pr.inFlight) == 0 {
		pr.state = piece.Pending
	}
}

func blockIndex(blocks []piece.Block, begin uint32) int {
	for i, b := range blocks {
		if b.Begin == begin {
			return i
		}
	}
	return -1
}

func (s *Scheduler) updateAvailability(index uint32, delta int) {
	old := s.rarityItem[index]
	s.rarity.Delete(old)
	s.availability[index] += delta
	if s.availability[index] < 0 {
		s.availability[index] = 0
	}
	item := pieceAvailItem{availability: s.availability[index], index: index}
	s.rarityItem[index] = item
	s.rarity.ReplaceOrInsert(item)
}

func (s *Scheduler) handleMessage(sess *session.Session, msg any) {
	switch m := msg.(type) {
	case peerprotocol.BitfieldMsg:
		if uint32(len(m.Data)) < (s.info.NumPieces+7)/8 {
			s.disconnect(sess, fmt.Errorf("scheduler: bitfield too short from %s", sess.Addr()))
			sess.Conn.Close()
			return
		}
		bf := bitfield.FromBytes(m.Data, s.info.NumPieces)
		sess.Bitfield = bf
		for i := uint32(0); i < s.info.NumPieces; i++ {
			if bf.Test(i) {
				s.updateAvailability(i, 1)
			}
		}
		s.sendInterestedIfEligible(sess)
	case peerprotocol.HaveMsg:
		if !sess.Bitfield.Test(m.Index) {
			sess.Bitfield.Set(m.Index)
			s.updateAvailability(m.Index, 1)
		}
		s.sendInterestedIfEligible(sess)
	case peerprotocol.PieceMsg:
		s.handlePiece(sess, m)
	case peerprotocol.RequestMsg:
		// This is a leecher-only client: uploads and choke reciprocity
		// are out of scope, so peer requests are ignored.
	default:
		if pm, ok := msg.(peerprotocol.Message); ok {
			switch pm.ID() {
			case peerprotocol.Unchoke:
				sess.PeerChoking = false
			case peerprotocol.Choke:
				sess.PeerChoking = true
				for b := range sess.InFlight {
					s.requeueBlock(b)
				}
				sess.InFlight = make(map[session.Block]struct{})
			}
		}
	}
}

func (s *Scheduler) sendInterestedIfEligible(sess *session.Session) {
	if sess.AmInterested {
		return
	}
	for i := uint32(0); i < s.info.NumPieces; i++ {
		if s.pieces[i].state != piece.Complete && sess.Has(i) {
			sess.AmInterested = true
			sess.Conn.SendMessage(peerprotocol.InterestedMessage())
			return
		}
	}
}

func (s *Scheduler) handlePiece(sess *session.Session, m peerprotocol.PieceMsg) {
	if int(m.Index) >= len(s.pieces) {
		return
	}
	b := session.Block{Index: m.Index, Begin: m.Begin, Length: uint32(len(m.Block))}
	pr := &s.pieces[m.Index]
	inf, ok := pr.inFlight[b]
	if !ok || inf.sess != sess {
		return // not what we asked for, or stale; ignore
	}
	delete(pr.inFlight, b)
	delete(sess.InFlight, b)

	idx := blockIndex(pr.blocks, m.Begin)
	if idx < 0 {
		return
	}
	copy(pr.buf[m.Begin:], m.Block)
	pr.done[idx] = true
	pr.lastProgress = time.Now()

	if !allDone(pr.done) {
		return
	}
	s.verifyAndWrite(m.Index, pr)
}

func allDone(done []bool) bool {
	for _, d := range done {
		if !d {
			return false
		}
	}
	return true
}

func (s *Scheduler) verifyAndWrite(index uint32, pr *pieceRecord) {
	sum := sha1.Sum(pr.buf) // nolint: gosec
	expected := s.info.PieceHash(index)
	if !hashEqual(sum[:], expected) {
		s.log.Debugf("piece %d failed verification", index)
		pr.retries++
		for i := range pr.done {
			pr.done[i] = false
		}
		pr.inFlight = nil
		pr.state = piece.Pending
		if pr.retries >= s.cfg.MaxRetries {
			s.fatal(&PieceVerificationError{Index: index})
		}
		return
	}
	if err := s.writer.WritePiece(index, pr.buf); err != nil {
		s.fatal(err)
		return
	}
	pr.state = piece.Complete
	n := len(pr.buf)
	pr.buf = nil
	s.remaining--
	if s.onPieceDone != nil {
		s.onPieceDone(index, n)
	}
}

func (s *Scheduler) fatal(err error) {
	if s.err == nil {
		s.err = err
	}
}

func hashEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Scheduler) checkTimeouts() {
	now := time.Now()
	for i := range s.pieces {
		pr := &s.pieces[i]
		if pr.state != piece.InFlight {
			continue
		}
		for b, inf := range pr.inFlight {
			if now.Sub(inf.requestAt) > s.cfg.RequestTimeout {
				s.requeueBlock(b)
			}
		}
		if !pr.lastProgress.IsZero() && now.Sub(pr.lastProgress) > s.cfg.PieceTimeout {
			for bl, inf := range pr.inFlight {
				delete(inf.sess.InFlight, bl)
			}
			pr.inFlight = make(map[session.Block]*inflightBlock)
			for j := range pr.done {
				pr.done[j] = false
			}
			pr.state = piece.Pending
		}
	}
}

// assignWork pulls rarest-first eligible pieces and dispatches block
// requests to peers with spare capacity.
func (s *Scheduler) assignWork() {
	if len(s.peers) == 0 {
		return
	}
	order := make([]pieceAvailItem, 0, len(s.pieces))
	s.rarity.Ascend(func(i btree.Item) bool {
		order = append(order, i.(pieceAvailItem))
		return true
	})
	for _, item := range order {
		pr := &s.pieces[item.index]
		if pr.state == piece.Complete || pr.skipped {
			continue
		}
		s.assignPiece(item.index, pr)
	}
}

func (s *Scheduler) assignPiece(index uint32, pr *pieceRecord) {
	if pr.inFlight == nil {
		pr.inFlight = make(map[session.Block]*inflightBlock)
	}
	candidates := s.eligiblePeers(index)
	for i, bl := range pr.blocks {
		if pr.done[i] {
			continue
		}
		b := session.Block{Index: index, Begin: bl.Begin, Length: bl.Length}
		if _, inFlight := pr.inFlight[b]; inFlight {
			continue
		}
		peer := pickPeerWithCapacity(candidates)
		if peer == nil {
			return
		}
		pr.state = piece.InFlight
		if pr.lastProgress.IsZero() {
			pr.lastProgress = time.Now()
		}
		pr.inFlight[b] = &inflightBlock{sess: peer, requestAt: time.Now()}
		peer.InFlight[b] = struct{}{}
		peer.Conn.SendMessage(peerprotocol.RequestMsg{Index: index, Begin: bl.Begin, Length: bl.Length})
	}
}

func (s *Scheduler) eligiblePeers(index uint32) []*session.Session {
	var out []*session.Session
	for sess := range s.peers {
		if sess.Ready() && sess.Has(index) && sess.HasCapacity() {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pending() < out[j].Pending() })
	return out
}

func pickPeerWithCapacity(candidates []*session.Session) *session.Session {
	for _, c := range candidates {
		if c.HasCapacity() {
			return c
		}
	}
	return nil
}
