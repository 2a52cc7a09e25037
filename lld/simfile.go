package lld

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/goftl/goftl/device"
	"github.com/goftl/goftl/internal/flog"
)

// SimFile is a Port backed by a flat regular file, laid out as
// TotalBlocks contiguous blocks of PagesPerBlock*(PageDataSize+PageSpareSize)
// bytes. It exists to give tests and ftlctl something to talk to; it is
// not a driver and implements none of the LLD's real concerns (ECC,
// timing, DMA).
//
// An erased page reads back as all 0xFF, matching NAND semantics.
type SimFile struct {
	f    *os.File
	dev  device.Info
	bad  map[uint32]bool
	fail failPlan
}

// failPlan lets tests inject a single program/erase failure on a given
// physical block, the way the boundary scenarios in the spec require
// ("arrange the LLD to fail the next program of physical block P").
type failPlan struct {
	failProgramOnce uint32 // noBlock = none; otherwise a 0-based physical block
	failEraseOnce   uint32
}

const noBlock = ^uint32(0)

// OpenSimFile creates (or truncates) path to hold dev's full geometry
// and returns a ready-to-use Port. direct requests O_DIRECT on Linux,
// mirroring how a real LLD bypasses the host page cache.
func OpenSimFile(path string, dev device.Info, direct bool) (*SimFile, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if direct {
		flags |= unix.O_DIRECT
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil && direct {
		flog.Warnf("lld: O_DIRECT open of %s failed (%v), retrying buffered", path, err)
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	}
	if err != nil {
		return nil, err
	}
	size := int64(dev.TotalBlocks) * int64(dev.PagesPerBlock) * int64(uint32(dev.PageDataSize)+uint32(dev.PageSpareSize))
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	sf := &SimFile{f: f, dev: dev, bad: map[uint32]bool{}, fail: failPlan{noBlock, noBlock}}
	if err := sf.eraseAll(); err != nil {
		f.Close()
		return nil, err
	}
	return sf, nil
}

func (s *SimFile) eraseAll() error {
	buf := make([]byte, uint32(s.dev.PageDataSize)+uint32(s.dev.PageSpareSize))
	for i := range buf {
		buf[i] = 0xFF
	}
	pagesTotal := int64(s.dev.TotalBlocks) * int64(s.dev.PagesPerBlock)
	for p := int64(0); p < pagesTotal; p++ {
		if _, err := s.f.WriteAt(buf, p*int64(len(buf))); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimFile) pageOffset(physBlock uint32, page uint16) int64 {
	blockBytes := int64(s.dev.PagesPerBlock) * int64(uint32(s.dev.PageDataSize)+uint32(s.dev.PageSpareSize))
	pageBytes := int64(uint32(s.dev.PageDataSize) + uint32(s.dev.PageSpareSize))
	return int64(physBlock)*blockBytes + int64(page)*pageBytes
}

// MarkFactoryBad pre-seeds a physical block as factory-bad, as GetBadBlock reports.
func (s *SimFile) MarkFactoryBad(physBlock uint32) { s.bad[physBlock] = true }

// FailNextProgram arranges for the next WritePageMain/MainSpare/Spare
// touching physBlock to fail exactly once.
func (s *SimFile) FailNextProgram(physBlock uint32) { s.fail.failProgramOnce = physBlock }

// FailNextErase arranges for the next EraseBlock of physBlock to fail once.
func (s *SimFile) FailNextErase(physBlock uint32) { s.fail.failEraseOnce = physBlock }

func (s *SimFile) ReadPageMain(_ context.Context, physBlock uint32, page uint16, count uint16, buf []byte) error {
	need := int(count) * int(s.dev.PageDataSize)
	if len(buf) < need {
		return fmt.Errorf("lld: short read buffer: have %d need %d", len(buf), need)
	}
	for i := uint16(0); i < count; i++ {
		off := s.pageOffset(physBlock, page+i)
		if _, err := s.f.ReadAt(buf[int(i)*int(s.dev.PageDataSize):int(i+1)*int(s.dev.PageDataSize)], off); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimFile) ReadPageMainSpare(_ context.Context, physBlock uint32, page uint16, count uint16, main, spare []byte) error {
	for i := uint16(0); i < count; i++ {
		off := s.pageOffset(physBlock, page+i)
		if _, err := s.f.ReadAt(main[int(i)*int(s.dev.PageDataSize):int(i+1)*int(s.dev.PageDataSize)], off); err != nil {
			return err
		}
		if _, err := s.f.ReadAt(spare[int(i)*int(s.dev.PageSpareSize):int(i+1)*int(s.dev.PageSpareSize)], off+int64(s.dev.PageDataSize)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimFile) ReadPageSpare(_ context.Context, physBlock uint32, page uint16, spare []byte) error {
	off := s.pageOffset(physBlock, page) + int64(s.dev.PageDataSize)
	_, err := s.f.ReadAt(spare, off)
	return err
}

func (s *SimFile) checkProgramFail(physBlock uint32) error {
	if s.fail.failProgramOnce == physBlock {
		s.fail.failProgramOnce = noBlock
		return fmt.Errorf("lld: simulated program failure on block %d", physBlock)
	}
	return nil
}

func (s *SimFile) WritePageMain(_ context.Context, physBlock uint32, page uint16, count uint16, buf []byte) error {
	if err := s.checkProgramFail(physBlock); err != nil {
		return err
	}
	for i := uint16(0); i < count; i++ {
		off := s.pageOffset(physBlock, page+i)
		if _, err := s.f.WriteAt(buf[int(i)*int(s.dev.PageDataSize):int(i+1)*int(s.dev.PageDataSize)], off); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimFile) WritePageMainSpare(_ context.Context, physBlock uint32, page uint16, main, spare []byte) error {
	if err := s.checkProgramFail(physBlock); err != nil {
		return err
	}
	off := s.pageOffset(physBlock, page)
	if _, err := s.f.WriteAt(main, off); err != nil {
		return err
	}
	_, err := s.f.WriteAt(spare, off+int64(s.dev.PageDataSize))
	return err
}

func (s *SimFile) WritePageSpare(_ context.Context, physBlock uint32, page uint16, spare []byte) error {
	if err := s.checkProgramFail(physBlock); err != nil {
		return err
	}
	off := s.pageOffset(physBlock, page) + int64(s.dev.PageDataSize)
	_, err := s.f.WriteAt(spare, off)
	return err
}

func (s *SimFile) EraseBlock(_ context.Context, physBlock uint32) error {
	if s.fail.failEraseOnce == physBlock {
		s.fail.failEraseOnce = noBlock
		return fmt.Errorf("lld: simulated erase failure on block %d", physBlock)
	}
	buf := make([]byte, uint32(s.dev.PageDataSize)+uint32(s.dev.PageSpareSize))
	for i := range buf {
		buf[i] = 0xFF
	}
	for p := uint16(0); p < s.dev.PagesPerBlock; p++ {
		if _, err := s.f.WriteAt(buf, s.pageOffset(physBlock, p)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimFile) GetBadBlock(_ context.Context, physBlock uint32) (bool, error) {
	return s.bad[physBlock], nil
}

// CmdDMA reports false: SimFile is always polled/synchronous. The
// batched dispatcher in lld/batched.go wraps it when CMD-DMA behavior
// needs to be exercised against the same backing file.
func (s *SimFile) CmdDMA() bool { return false }

func (s *SimFile) ExecuteCmds(context.Context, int) error { return nil }

func (s *SimFile) EventStatus(context.Context) (EventStatus, []PendingCmd, error) {
	return StatusPass, nil, nil
}

// Sync forces the backing file to stable storage, the way a real LLD's
// polling read confirms a program/erase completed.
func (s *SimFile) Sync() error { return s.f.Sync() }

// Close releases the backing file.
func (s *SimFile) Close() error { return s.f.Close() }
