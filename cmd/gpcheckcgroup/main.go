// gpcheckcgroup validates the cgroup setup of a host before resource
// groups are enabled on it. The checks mirror the ones the postmaster
// performs at start.
package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gopkg.in/ini.v1"

	cgroups "github.com/andr-sokolov/gpdb"
)

const usage = "validate the cgroup v1 setup for resource groups"

func main() {
	app := cli.NewApp()
	app.Name = "gpcheckcgroup"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "resource group tunables file (ini)",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable debug logging",
		},
	}
	app.Commands = []cli.Command{
		probeCommand,
		checkCommand,
		statCommand,
	}
	app.Before = func(context *cli.Context) error {
		log.SetOutput(os.Stderr)
		if context.GlobalBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig builds the tunables from defaults plus an optional ini
// file. The database passes the same struct directly; the file keeps
// this tool usable without a running cluster.
func loadConfig(path string) (*cgroups.Config, error) {
	cfg := cgroups.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	sec := f.Section("resgroup")
	cfg.CpuLimit = sec.Key("cpu_limit").MustFloat64(cfg.CpuLimit)
	cfg.CpuPriority = sec.Key("cpu_priority").MustInt64(cfg.CpuPriority)
	cfg.CpuCeilingEnforcement = sec.Key("cpu_ceiling_enforcement").MustBool(cfg.CpuCeilingEnforcement)
	cfg.MemoryOptional = sec.Key("memory_optional").MustBool(cfg.MemoryOptional)
	cfg.CpusetOptional = sec.Key("cpuset_optional").MustBool(cfg.CpusetOptional)
	cfg.VmemLimitChunks = int32(sec.Key("vmem_limit_chunks").MustInt(int(cfg.VmemLimitChunks)))
	cfg.HostPrimaryCount = int32(sec.Key("host_primary_count").MustInt(int(cfg.HostPrimaryCount)))
	cfg.ChunkSizeBits = uint(sec.Key("chunk_size_bits").MustInt(int(cfg.ChunkSizeBits)))
	return cfg, nil
}

func newRoutine(context *cli.Context) (cgroups.OpsRoutine, error) {
	cfg, err := loadConfig(context.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	return cgroups.NewV1Routine(cfg), nil
}

var probeCommand = cli.Command{
	Name:  "probe",
	Usage: "best effort usability check, exits non zero when unusable",
	Action: func(context *cli.Context) error {
		routine, err := newRoutine(context)
		if err != nil {
			return err
		}
		if !routine.Probe() {
			return fmt.Errorf("%s backend is not usable on this host", routine.Name())
		}
		fmt.Printf("%s backend is usable\n", routine.Name())
		return nil
	},
}

var checkCommand = cli.Command{
	Name:  "check",
	Usage: "strict check, reports the first unmet requirement",
	Action: func(context *cli.Context) error {
		routine, err := newRoutine(context)
		if err != nil {
			return err
		}
		routine.Probe()
		if err := routine.Check(); err != nil {
			return err
		}
		total, err := routine.GetTotalMemory()
		if err != nil {
			return err
		}
		fmt.Printf("%s backend is properly configured, total memory %d MB\n",
			routine.Name(), total)
		return nil
	},
}

var statCommand = cli.Command{
	Name:      "stat",
	Usage:     "dump usage counters of one group",
	ArgsUsage: "GROUP_ID",
	Action: func(context *cli.Context) error {
		id, err := strconv.ParseUint(context.Args().First(), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid group id %q", context.Args().First())
		}
		group := cgroups.GroupID(id)

		routine, err := newRoutine(context)
		if err != nil {
			return err
		}
		routine.Probe()
		if err := routine.Check(); err != nil {
			return err
		}

		usage, err := routine.GetCpuUsage(group)
		if err != nil {
			return err
		}
		stat, err := routine.GetCpuStat(group)
		if err != nil {
			return err
		}
		memUsage, err := routine.GetMemoryUsage(group)
		if err != nil {
			return err
		}
		memLimit, err := routine.GetMemoryLimitChunks(group)
		if err != nil {
			return err
		}

		fmt.Printf("cpu usage:          %d ns\n", usage)
		fmt.Printf("cpu user/system:    %d/%d ticks\n", stat.User, stat.System)
		fmt.Printf("memory usage:       %d chunks\n", memUsage)
		fmt.Printf("memory limit:       %d chunks\n", memLimit)

		if cpuset, err := routine.GetCpuSet(group); err == nil && cpuset != "" {
			fmt.Printf("cpuset.cpus:        %s\n", cpuset)
		}
		return nil
	},
}
