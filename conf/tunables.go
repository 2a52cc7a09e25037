// Package conf loads the FTL's runtime tunables from an INI file (the
// way server/conf did for the teacher's mysqld-style config) and its
// static catalog of known NAND device geometries from YAML.
package conf

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// Tunables mirrors the enumerated options in spec section 6.
type Tunables struct {
	CacheBlockNumber   int    `default:"16"`
	PagesPerCacheBlock int    `default:"0"` // 0 => whole block
	FirstBTID          uint8  `default:"1"`
	LastBTID           uint8  `default:"254"`
	BTSigOffset        int    `default:"0"`
	BTSigBytes         int    `default:"5"`
	BTSigDelta         uint8  `default:"3"`
	WearLevelingGate   uint8  `default:"16"`  // 0x10
	WearLevelingBlockNum int  `default:"10"`
	NumFreeBlocksGate  int    `default:"30"`
	MaxReadCounter     uint16 `default:"10000"` // 0x2710
	RetryTimes         int    `default:"3"`
	SupportLargeBlockNum bool `default:"true"`
	AutoFormatFlash    bool   `default:"false"`
	ReadbackVerify     bool   `default:"false"`

	LogLevel     string `default:"info"`
	InfoLogPath  string
	ErrorLogPath string
}

// Default returns the same defaults spectraswconfig.h ships: the exact
// values named in SPEC_FULL.md's supplemented-features section.
func Default() Tunables {
	return Tunables{
		CacheBlockNumber:     16,
		PagesPerCacheBlock:   0,
		FirstBTID:            1,
		LastBTID:             254,
		BTSigOffset:          0,
		BTSigBytes:           5,
		BTSigDelta:           3,
		WearLevelingGate:     0x10,
		WearLevelingBlockNum: 10,
		NumFreeBlocksGate:    30,
		MaxReadCounter:       0x2710,
		RetryTimes:           3,
		SupportLargeBlockNum: true,
		AutoFormatFlash:      false,
		ReadbackVerify:       false,
		LogLevel:             "info",
	}
}

// Load reads path as an INI file under an [ftl] section, overlaying
// Default() with whatever keys are present. A missing file is not an
// error: it just means the defaults apply, matching how ftlctl runs
// against a bare device with no prior config.
func Load(path string) (Tunables, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return t, nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return t, fmt.Errorf("conf: loading %s: %w", path, err)
	}
	sec := f.Section("ftl")
	t.CacheBlockNumber = sec.Key("cache_block_number").MustInt(t.CacheBlockNumber)
	t.PagesPerCacheBlock = sec.Key("pages_per_cache_block").MustInt(t.PagesPerCacheBlock)
	t.FirstBTID = uint8(sec.Key("first_bt_id").MustInt(int(t.FirstBTID)))
	t.LastBTID = uint8(sec.Key("last_bt_id").MustInt(int(t.LastBTID)))
	t.BTSigBytes = sec.Key("btsig_bytes").MustInt(t.BTSigBytes)
	t.BTSigDelta = uint8(sec.Key("btsig_delta").MustInt(int(t.BTSigDelta)))
	t.WearLevelingGate = uint8(sec.Key("wear_leveling_gate").MustInt(int(t.WearLevelingGate)))
	t.WearLevelingBlockNum = sec.Key("wear_leveling_block_num").MustInt(t.WearLevelingBlockNum)
	t.NumFreeBlocksGate = sec.Key("num_free_blocks_gate").MustInt(t.NumFreeBlocksGate)
	t.MaxReadCounter = uint16(sec.Key("max_read_counter").MustInt(int(t.MaxReadCounter)))
	t.RetryTimes = sec.Key("retry_times").MustInt(t.RetryTimes)
	t.SupportLargeBlockNum = sec.Key("support_large_blocknum").MustBool(t.SupportLargeBlockNum)
	t.AutoFormatFlash = sec.Key("auto_format_flash").MustBool(t.AutoFormatFlash)
	t.ReadbackVerify = sec.Key("readback_verify").MustBool(t.ReadbackVerify)
	t.LogLevel = sec.Key("log_level").MustString(t.LogLevel)
	t.InfoLogPath = sec.Key("info_log_path").MustString(t.InfoLogPath)
	t.ErrorLogPath = sec.Key("error_log_path").MustString(t.ErrorLogPath)
	return t, nil
}
