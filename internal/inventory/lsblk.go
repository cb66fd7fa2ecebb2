package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/system"
)

const interfaceFile = "file"

var lsblkArgs = []string{"-J", "-b", "-o", "NAME,PATH,SIZE,TYPE,MODEL,SERIAL,TRAN,ROTA,RM,MOUNTPOINT,MAJ:MIN"}

// LsblkProber lists whole disks with lsblk.
type LsblkProber struct {
	runner system.Runner
	// rootDev returns the major:minor of the device backing "/".
	rootDev func() (string, bool)
}

// NewLsblkProber creates a prober that shells out to lsblk.
func NewLsblkProber(runner system.Runner) *LsblkProber {
	return &LsblkProber{runner: runner, rootDev: rootDevice}
}

func (p *LsblkProber) Probe(ctx context.Context) ([]domain.Device, error) {
	out, err := p.runner.Run(ctx, "lsblk", lsblkArgs...)
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	root, _ := p.rootDev()
	return parseLsblk(out, root)
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name        string        `json:"name"`
	Path        string        `json:"path"`
	Size        flexInt       `json:"size"`
	Type        string        `json:"type"`
	Model       *string       `json:"model"`
	Serial      *string       `json:"serial"`
	Tran        *string       `json:"tran"`
	Rota        flexBool      `json:"rota"`
	RM          flexBool      `json:"rm"`
	Mountpoint  *string       `json:"mountpoint"`
	Mountpoints []*string     `json:"mountpoints"`
	MajMin      string        `json:"maj:min"`
	Children    []lsblkDevice `json:"children"`
}

// parseLsblk turns lsblk JSON into devices. rootMajMin, when non-empty, identifies the
// partition or disk mounted at "/".
func parseLsblk(out []byte, rootMajMin string) ([]domain.Device, error) {
	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}

	var devices []domain.Device
	for _, bd := range parsed.BlockDevices {
		if bd.Type != "disk" {
			continue
		}
		path := bd.Path
		if path == "" {
			path = "/dev/" + bd.Name
		}
		tran := strings.ToLower(deref(bd.Tran))
		d := domain.Device{
			ID:             bd.Name,
			Path:           path,
			Serial:         strings.TrimSpace(deref(bd.Serial)),
			Model:          strings.TrimSpace(deref(bd.Model)),
			Interface:      iface(bd.Name, tran),
			CapacityBytes:  int64(bd.Size),
			Class:          classOf(bd.Name, tran, bool(bd.Rota), bool(bd.RM)),
			IsSystemVolume: hostsRoot(bd, rootMajMin),
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func iface(name, tran string) string {
	switch {
	case tran != "":
		return tran
	case strings.HasPrefix(name, "nvme"):
		return "nvme"
	}
	return "unknown"
}

func classOf(name, tran string, rotational, removable bool) domain.DeviceClass {
	switch {
	case tran == "nvme" || strings.HasPrefix(name, "nvme"):
		return domain.ClassNVMe
	case removable || tran == "usb" || tran == "mmc":
		return domain.ClassRemovable
	case rotational:
		return domain.ClassHDD
	}
	return domain.ClassSSD
}

// hostsRoot reports whether the disk or any of its partitions is the root filesystem.
func hostsRoot(bd lsblkDevice, rootMajMin string) bool {
	if rootMajMin != "" && bd.MajMin == rootMajMin {
		return true
	}
	if deref(bd.Mountpoint) == "/" {
		return true
	}
	for _, mp := range bd.Mountpoints {
		if deref(mp) == "/" {
			return true
		}
	}
	for _, child := range bd.Children {
		if hostsRoot(child, rootMajMin) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// flexInt accepts both numbers and numeric strings; lsblk changed the encoding of sizes.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts true/false as well as "0"/"1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch string(bytes.Trim(b, `"`)) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}
