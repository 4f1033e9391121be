package npu

import (
	"fmt"
	"strconv"
	"strings"
)

// Discovery record prefixes in the /info?what=names payload.
const (
	recAreaPrefix  = "AREA,"
	recChanPrefix  = "CHAN,"
	recInputPrefix = "INPSTATE,"
	recPlatePrefix = "PLATE,"
)

// Record prefixes in the /info?what=levels payload.
const (
	recSystemIDPrefix  = "!SYSTEMID,"
	recScenePrefix     = "SCENE,"
	recSceneFadePrefix = "SCNFADE,"
	recSceneChanPrefix = "SCNCHANLEVEL,"
)

// systemID is the NPU configuration fingerprint. The edit and adjust
// stamps change whenever the installer modifies the configuration, so a
// fingerprint mismatch is the rediscovery trigger.
type systemID struct {
	Serial      string
	EditStamp   string
	AdjustStamp string
}

func (s systemID) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Serial, s.EditStamp, s.AdjustStamp)
}

// chanRecord is a CHAN line from the names payload:
// CHAN,Address,DevCode,ChanNum,AreaNum,ChanName
type chanRecord struct {
	Address int
	DevCode DevCode
	Channel int
	AreaNum int
	Name    string
}

// inputRecord is an INPSTATE line from the names payload, same shape as
// a CHAN line but describing an input channel.
type inputRecord struct {
	Address int
	DevCode DevCode
	Channel int
	AreaNum int
	Name    string
}

// plateRecord is a PLATE line from the names payload:
// PLATE,Address,DevCode,AreaNum,PlateName
type plateRecord struct {
	Address int
	DevCode DevCode
	AreaNum int
	Name    string
}

// sceneRecord aggregates one SCENE block from the levels payload: the
// SCENE line itself plus the SCNFADE and SCNCHANLEVEL lines that follow it.
type sceneRecord struct {
	Number  int
	AreaNum int
	Name    string
	FadeMs  int
	Levels  []sceneChanLevel
}

// sceneChanLevel is one SCNCHANLEVEL line:
// SCNCHANLEVEL,SceneNum,Address,DevCode,ChanNum,Level
type sceneChanLevel struct {
	Address int
	DevCode DevCode
	Channel int
	Level   int
}

// splitFrame splits an NPU message into its type and comma-separated
// fields. The trailing ';' and any line ending are stripped first, so
// "!CHANLEVEL,1,12,4,255;" yields ("!CHANLEVEL", ["1","12","4","255"]).
func splitFrame(line string) (string, []string) {
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(line, ";")
	if line == "" {
		return "", nil
	}
	parts := strings.Split(line, ",")
	return parts[0], parts[1:]
}

// frameInt parses field i of a frame as an integer.
func frameInt(fields []string, i int) (int, error) {
	if i >= len(fields) {
		return 0, fmt.Errorf("%w: missing field %d", ErrInvalidFrame, i)
	}
	n, err := strconv.Atoi(strings.TrimSpace(fields[i]))
	if err != nil {
		return 0, fmt.Errorf("%w: field %d %q is not numeric", ErrInvalidFrame, i, fields[i])
	}
	return n, nil
}

// parseSystemID extracts the !SYSTEMID record from the levels payload.
func parseSystemID(levels string) (systemID, error) {
	for _, line := range strings.Split(levels, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, recSystemIDPrefix) {
			continue
		}
		_, fields := splitFrame(line)
		if len(fields) < 3 {
			continue
		}
		return systemID{
			Serial:      strings.TrimSpace(fields[0]),
			EditStamp:   strings.TrimSpace(fields[1]),
			AdjustStamp: strings.TrimSpace(fields[2]),
		}, nil
	}
	return systemID{}, ErrSystemIDNotFound
}

// parseAreas extracts the AREA records (AREA,AreaNum,AreaName) into a
// lookup map.
func parseAreas(payload string) map[int]string {
	areas := make(map[int]string)
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, recAreaPrefix) {
			continue
		}
		_, fields := splitFrame(line)
		if len(fields) < 2 {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		areas[num] = strings.TrimSpace(fields[1])
	}
	return areas
}

// parseChanRecords extracts the CHAN output-channel records from the
// names payload. Malformed lines are skipped.
func parseChanRecords(payload string) []chanRecord {
	var records []chanRecord
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, recChanPrefix) {
			continue
		}
		_, fields := splitFrame(line)
		if len(fields) < 5 {
			continue
		}
		addr, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
		dev, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
		ch, err3 := strconv.Atoi(strings.TrimSpace(fields[2]))
		area, err4 := strconv.Atoi(strings.TrimSpace(fields[3]))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		records = append(records, chanRecord{
			Address: addr,
			DevCode: DevCode(dev),
			Channel: ch,
			AreaNum: area,
			Name:    strings.TrimSpace(fields[4]),
		})
	}
	return records
}

// parseInputRecords extracts the INPSTATE input-channel records from the
// names payload.
func parseInputRecords(payload string) []inputRecord {
	var records []inputRecord
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, recInputPrefix) {
			continue
		}
		_, fields := splitFrame(line)
		if len(fields) < 4 {
			continue
		}
		addr, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
		dev, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
		ch, err3 := strconv.Atoi(strings.TrimSpace(fields[2]))
		area, err4 := strconv.Atoi(strings.TrimSpace(fields[3]))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		name := ""
		if len(fields) > 4 {
			name = strings.TrimSpace(fields[4])
		}
		records = append(records, inputRecord{
			Address: addr,
			DevCode: DevCode(dev),
			Channel: ch,
			AreaNum: area,
			Name:    name,
		})
	}
	return records
}

// parsePlateRecords extracts the PLATE keypad records from the names
// payload, keyed by module address.
func parsePlateRecords(payload string) map[int]plateRecord {
	plates := make(map[int]plateRecord)
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, recPlatePrefix) {
			continue
		}
		_, fields := splitFrame(line)
		if len(fields) < 3 {
			continue
		}
		addr, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
		dev, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
		area, err3 := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		name := ""
		if len(fields) > 3 {
			name = strings.TrimSpace(fields[3])
		}
		plates[addr] = plateRecord{
			Address: addr,
			DevCode: DevCode(dev),
			AreaNum: area,
			Name:    name,
		}
	}
	return plates
}

// parseSceneRecords extracts the SCENE blocks from the levels payload.
// A block is the SCENE line followed by its SCNFADE and SCNCHANLEVEL
// lines; lines belonging to a different scene number start a new block.
func parseSceneRecords(payload string) []sceneRecord {
	var records []sceneRecord
	index := make(map[int]int) // scene number -> records index

	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, recScenePrefix):
			_, fields := splitFrame(line)
			if len(fields) < 3 {
				continue
			}
			num, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
			area, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
			if err1 != nil || err2 != nil {
				continue
			}
			index[num] = len(records)
			records = append(records, sceneRecord{
				Number:  num,
				AreaNum: area,
				Name:    strings.TrimSpace(fields[2]),
			})

		case strings.HasPrefix(line, recSceneFadePrefix):
			_, fields := splitFrame(line)
			if len(fields) < 2 {
				continue
			}
			num, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
			fade, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
			if err1 != nil || err2 != nil {
				continue
			}
			if i, ok := index[num]; ok {
				records[i].FadeMs = fade
			}

		case strings.HasPrefix(line, recSceneChanPrefix):
			_, fields := splitFrame(line)
			if len(fields) < 5 {
				continue
			}
			num, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
			addr, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
			dev, err3 := strconv.Atoi(strings.TrimSpace(fields[2]))
			ch, err4 := strconv.Atoi(strings.TrimSpace(fields[3]))
			level, err5 := strconv.Atoi(strings.TrimSpace(fields[4]))
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
				continue
			}
			if i, ok := index[num]; ok {
				records[i].Levels = append(records[i].Levels, sceneChanLevel{
					Address: addr,
					DevCode: DevCode(dev),
					Channel: ch,
					Level:   level,
				})
			}
		}
	}
	return records
}

// proxyKey builds the zero-padded "address-channel" key used by the
// channel-to-scene proxy map, e.g. (1, 4) -> "001-004".
func proxyKey(address, channel int) string {
	return fmt.Sprintf("%03d-%03d", address, channel)
}

// buildSceneProxy maps output channels to single-channel scenes.
//
// A scene qualifies as a proxy when it drives exactly one channel and
// drives it at full level (255). Recalling such a scene instead of fading
// the channel directly keeps the NPU's own scene state consistent, which
// matters for wall-plate inputs programmed against the same scene.
func buildSceneProxy(scenes []sceneRecord) map[string]SceneProxy {
	proxies := make(map[string]SceneProxy)
	for _, scene := range scenes {
		if len(scene.Levels) != 1 || scene.Levels[0].Level != 255 {
			continue
		}
		level := scene.Levels[0]
		proxies[proxyKey(level.Address, level.Channel)] = SceneProxy{
			SceneNumber: scene.Number,
			FadeMs:      scene.FadeMs,
		}
	}
	return proxies
}

// SceneProxy routes a channel command through a single-channel scene.
type SceneProxy struct {
	SceneNumber int
	FadeMs      int
}
