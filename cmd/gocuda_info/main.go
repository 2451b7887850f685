// gocuda_info lists the devices of a driver and runs a quick smoke test of streams and events on each of them.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gomlx/gocuda/cuda"
	"github.com/gomlx/gocuda/driver"
	"github.com/janpfeifer/must"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

var (
	flagDriverName = flag.String("driver", "", "Driver name, if empty uses $GOCUDA_DRIVER or \"cudart\"")
	flagDevices    = flag.Int("devices", 0, "Number of devices for the \"sim\" driver, if > 0")
	flagTopology   = flag.String("topology", "", "YAML file with the topology for the \"sim\" driver")
	flagSmoke      = flag.Bool("smoke", true, "Run a stream and event smoke test on each device")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `gocuda_info lists the devices available through a driver.

$ gocuda_info -driver=sim -devices=4

Available drivers: %v

Usage:
`, driver.Available())
		flag.PrintDefaults()
	}
	klog.InitFlags(flag.CommandLine)
	flag.Parse()

	options := driver.Options{}
	if *flagDevices > 0 {
		options["devices"] = *flagDevices
	}
	if *flagTopology != "" {
		options["topology"] = *flagTopology
	}
	rt := must.M1(cuda.Open(*flagDriverName, options))
	defer func() { must.M(rt.Close()) }()
	fmt.Printf("%s\n\n", rt)
	if rt.NumDevices() == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	header := []string{"ID", "NAME", "PRIORITIES"}
	if *flagSmoke {
		header = append(header, "SMOKE TEST", "HOST FUNC LATENCY")
	}
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, device := range rt.Devices() {
		name, err := device.Name()
		if err != nil {
			name = fmt.Sprintf("error: %v", err)
		}
		priorities := "n/a"
		if least, greatest, err := device.StreamPriorityRange(); err == nil {
			priorities = fmt.Sprintf("[%d, %d]", greatest, least)
		}
		row := []string{strconv.Itoa(int(device.ID())), name, priorities}
		if *flagSmoke {
			latency, err := smokeTest(device)
			if err != nil {
				klog.Errorf("Smoke test on %s failed: %+v", device, err)
				row = append(row, "failed", "")
			} else {
				row = append(row, "ok", latency.String())
			}
		}
		table.Append(row)
	}
	table.Render()

	if *flagSmoke && rt.NumDevices() > 1 {
		devices := rt.Devices()
		if err := crossDeviceTest(devices[0], devices[1]); err != nil {
			klog.Errorf("Cross device test failed: %+v", err)
		} else {
			fmt.Printf("\nCross device wait between %s and %s: ok\n", devices[0], devices[1])
		}
	}
}

// smokeTest creates a stream and events on the device, and measures how long a host function takes to run.
func smokeTest(device cuda.Device) (latency time.Duration, err error) {
	err = device.WithCurrent(func(current cuda.CurrentDevice) (err error) {
		stream, err := current.CreateStream(false)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, stream.Destroy()) }()
		start, err := current.CreateEvent(driver.EventFlags{})
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, start.Destroy()) }()
		end, err := current.CreateEvent(driver.EventFlags{BlockingSync: true})
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, end.Destroy()) }()

		s := stream.AssumeCurrent()
		if err = s.Record(start); err != nil {
			return err
		}
		if err = s.Enqueue(func() {}); err != nil {
			return err
		}
		if err = s.Record(end); err != nil {
			return err
		}
		if err = current.SynchronizeEvent(end); err != nil {
			return err
		}
		latency, err = cuda.ElapsedTime(start, end)
		return err
	})
	return
}

// crossDeviceTest makes a stream of device b wait for an event of device a.
func crossDeviceTest(a, b cuda.Device) (err error) {
	event, err := a.CreateEvent(driver.EventFlags{DisableTiming: true})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, event.Destroy()) }()
	stream, err := b.CreateStream(false)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, stream.Destroy()) }()

	ran := make(chan struct{})
	if err = a.DefaultStream().Enqueue(func() { time.Sleep(time.Millisecond) }); err != nil {
		return err
	}
	if err = a.DefaultStream().Record(event); err != nil {
		return err
	}
	if err = stream.WaitFor(event); err != nil {
		return err
	}
	if err = stream.Enqueue(func() { close(ran) }); err != nil {
		return err
	}
	if err = stream.Synchronize(); err != nil {
		return err
	}
	<-ran
	return nil
}
