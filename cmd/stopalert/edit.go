package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/itsmevjnk/StopAlert-companion/pkg/config"
	"github.com/itsmevjnk/StopAlert-companion/pkg/device"
	"github.com/itsmevjnk/StopAlert-companion/pkg/ptv"
)

// editor drives the interactive pre-flight adjustment menus.
type editor struct {
	app *App
	in  *bufio.Scanner
}

type menuOption struct {
	key   int
	label string
}

// editInteractive lets the user adjust every setting before execution.
// It reports whether execution should proceed.
func (a *App) editInteractive() (bool, error) {
	ed := &editor{app: a, in: bufio.NewScanner(os.Stdin)}
	return ed.run()
}

func (e *editor) run() (bool, error) {
	a := e.app

	for {
		fmt.Println("\nStopAlert PC companion software")
		verboseLabel := "Enable verbose output"
		if a.conf.Verbose {
			verboseLabel = "Disable verbose output"
		}
		option, err := e.menu([]menuOption{
			{1, "Select operation"},
			{2, "Device settings"},
			{3, "File system settings"},
			{4, "Dataset generation settings (incl. routes)"},
			{5, verboseLabel},
			{6, "Save changes"},
			{0, "Exit"},
		})
		if err != nil {
			return false, err
		}

		switch option {
		case 0:
			return false, nil
		case 6:
			fmt.Println("The configured action can be performed using the following command:")
			fmt.Printf("  %s\n", a.buildCommand())
			return true, nil
		case 1:
			if err := e.selectOperation(); err != nil {
				return false, err
			}
		case 2:
			if err := e.deviceSettings(); err != nil {
				return false, err
			}
		case 3:
			if err := e.fsSettings(); err != nil {
				return false, err
			}
		case 4:
			if err := e.datasetSettings(); err != nil {
				return false, err
			}
		case 5:
			a.conf.Verbose = !a.conf.Verbose
		}
	}
}

// menu displays numbered options and reads a valid choice.
func (e *editor) menu(options []menuOption) (int, error) {
	valid := map[int]bool{}
	for _, opt := range options {
		fmt.Printf("%d. %s\n", opt.key, opt.label)
		valid[opt.key] = true
	}
	for {
		line, err := e.readLine("Enter your option: ")
		if err != nil {
			return 0, err
		}
		option, err := strconv.Atoi(line)
		if err == nil && valid[option] {
			return option, nil
		}
		fmt.Println("Please enter a valid option.")
	}
}

func (e *editor) readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !e.in.Scan() {
		if err := e.in.Err(); err != nil {
			return "", errors.Wrap(err, "could not read input")
		}
		return "", errors.New("input closed")
	}
	return strings.TrimSpace(e.in.Text()), nil
}

// promptPositiveInt reads a positive integer, keeping current on an empty
// line.
func (e *editor) promptPositiveInt(prompt string, current int) (int, error) {
	for {
		line, err := e.readLine(prompt)
		if err != nil {
			return 0, err
		}
		if line == "" {
			return current, nil
		}
		v, err := strconv.Atoi(line)
		if err == nil && v > 0 {
			return v, nil
		}
		fmt.Println("Please enter a valid value.")
	}
}

func (e *editor) selectOperation() error {
	a := e.app

	for {
		var current int
		switch {
		case a.actGenerate && a.actUpload:
			current = 1
		case a.actGenerate:
			current = 2
		case a.actUpload:
			current = 3
		case a.actListFS:
			current = 4
		case a.actDumpFS:
			current = 5
		}

		fmt.Println("\nOperation selection")
		options := []menuOption{
			{1, "Generate and upload file system to device"},
			{2, "Generate file system to root directory only"},
			{3, "Upload existing file system from root directory only"},
			{4, "List device's file system contents"},
			{5, "Dump device's file system contents"},
			{0, "Go back"},
		}
		for i := range options {
			if options[i].key == current {
				options[i].label += " (selected)"
			}
		}

		option, err := e.menu(options)
		if err != nil {
			return err
		}
		if option == 0 {
			return nil
		}

		a.actGenerate = option == 1 || option == 2
		a.actUpload = option == 1 || option == 3
		a.actListFS = option == 4
		a.actDumpFS = option == 5
	}
}

func (e *editor) deviceSettings() error {
	a := e.app

	for {
		fmt.Println("\nDevice settings")
		option, err := e.menu([]menuOption{
			{1, "Set device port"},
			{2, "Set device baud rate"},
			{3, "Set communication timeout"},
			{4, "Set reformat request timeout"},
			{5, "Set reformat operation timeout"},
			{0, "Go back"},
		})
		if err != nil {
			return err
		}

		switch option {
		case 0:
			return nil
		case 1:
			if err := e.selectPort(); err != nil {
				return err
			}
		case 2:
			fmt.Printf("\nDevice communication baud rate is currently set to %d. This setting should ONLY be changed if the device's firmware was recompiled for a different baud rate.\n", a.conf.Device.Baud)
			v, err := e.promptPositiveInt("Enter the new baud rate (or press Enter to keep current setting): ", a.conf.Device.Baud)
			if err != nil {
				return err
			}
			a.conf.Device.Baud = v
		case 3:
			fmt.Printf("\nCommunication timeout is currently set to %d sec.\n", a.conf.Device.Timeout)
			v, err := e.promptPositiveInt("Enter the new timeout duration (or press Enter to keep current setting): ", a.conf.Device.Timeout)
			if err != nil {
				return err
			}
			a.conf.Device.Timeout = v
		case 4:
			fmt.Printf("\nReformat request timeout is currently set to %d sec. This setting should ONLY be changed if the device's firmware was recompiled with a different duration.\n", a.conf.Device.FormatReqTimeout)
			v, err := e.promptPositiveInt("Enter the new timeout duration (or press Enter to keep current setting): ", a.conf.Device.FormatReqTimeout)
			if err != nil {
				return err
			}
			a.conf.Device.FormatReqTimeout = v
		case 5:
			fmt.Printf("\nReformat operation timeout is currently set to %d sec.\n", a.conf.Device.FormatTimeout)
			v, err := e.promptPositiveInt("Enter the new timeout duration (or press Enter to keep current setting): ", a.conf.Device.FormatTimeout)
			if err != nil {
				return err
			}
			a.conf.Device.FormatTimeout = v
		}
	}
}

func (e *editor) selectPort() error {
	a := e.app

	fmt.Printf("\nDevice port is currently set to %s.\n", a.conf.Device.Port)
	fmt.Println("Select another serial port from the list below:")

	ports, err := device.ListPorts()
	if err != nil {
		return errors.Wrap(err, "could not list serial devices")
	}

	options := make([]menuOption, 0, len(ports)+2)
	for i, port := range ports {
		options = append(options, menuOption{i + 1, fmt.Sprintf("%s (%s)", port.Name, port.Description)})
	}
	options = append(options,
		menuOption{len(ports) + 1, "Enter manually"},
		menuOption{0, "Go back"},
	)

	option, err := e.menu(options)
	if err != nil {
		return err
	}
	switch {
	case option == 0:
		return nil
	case option <= len(ports):
		a.conf.Device.Port = ports[option-1].Name
	default:
		port, err := e.readLine("Enter the new device serial port (e.g. COM1 for Windows, or /dev/ttyUSB0 for Unix/Linux) (or press Enter to keep current setting): ")
		if err != nil {
			return err
		}
		if port != "" {
			a.conf.Device.Port = port
		}
	}
	return nil
}

func (e *editor) fsSettings() error {
	a := e.app

	for {
		fmt.Println("\nFile system settings")
		deleteLabel := "Enable deleting all files on device instead of reformatting"
		if a.conf.Filesystem.NoFormat {
			deleteLabel = "Disable deleting all files on device instead of reformatting"
		}
		option, err := e.menu([]menuOption{
			{1, "Change path to file system root (on this PC)"},
			{2, deleteLabel},
			{0, "Go back"},
		})
		if err != nil {
			return err
		}

		switch option {
		case 0:
			return nil
		case 1:
			fmt.Printf("\nThe PC companion software will store the data to be uploaded to the device at '%s'.\n", a.conf.Filesystem.Root)
			path, err := e.readLine("Enter the new path (or press Enter to keep current setting): ")
			if err != nil {
				return err
			}
			if path != "" {
				a.conf.Filesystem.Root = path
			}
		case 2:
			a.conf.Filesystem.NoFormat = !a.conf.Filesystem.NoFormat
			if a.conf.Filesystem.NoFormat {
				fmt.Println("The software will issue commands to delete all files from the device's file system (similar to 'rm -rf /') prior to uploading.")
			} else {
				fmt.Println("The software will issue commands to reformat the device's file system prior to uploading.")
			}
		}
	}
}

func (e *editor) datasetSettings() error {
	a := e.app

	for {
		fmt.Println("\nDataset generation settings")
		option, err := e.menu([]menuOption{
			{1, "Set GTFS dataset URL"},
			{2, "Select route(s)"},
			{0, "Go back"},
		})
		if err != nil {
			return err
		}

		switch option {
		case 0:
			return nil
		case 1:
			fmt.Printf("\nThe dataset URL is currently set to '%s'.\n", a.conf.Dataset.URL)
			url, err := e.readLine("Enter the new URL (or press Enter to keep current setting): ")
			if err != nil {
				return err
			}
			if url != "" {
				a.conf.Dataset.URL = url
			}
		case 2:
			if err := e.selectRoutes(); err != nil {
				return err
			}
		}
	}
}

func (e *editor) selectRoutes() error {
	a := e.app
	modes := ptv.ModeNames()

	for {
		fmt.Println("\nPlease select the transport mode whose route list you want to modify:")
		options := make([]menuOption, 0, len(modes)+1)
		for i, name := range modes {
			mode, _ := ptv.ModeByName(name)
			options = append(options, menuOption{i + 1, fmt.Sprintf("%s (%d route(s))", mode.Display, len(a.conf.Dataset.Routes[name]))})
		}
		options = append(options, menuOption{0, "Go back"})

		option, err := e.menu(options)
		if err != nil {
			return err
		}
		if option == 0 {
			return nil
		}

		name := modes[option-1]
		mode, _ := ptv.ModeByName(name)
		if current, ok := a.conf.Dataset.Routes[name]; !ok {
			fmt.Printf("\nMode '%s' does not have any routes included for generation.\n", mode.Display)
		} else {
			fmt.Printf("\nMode '%s' has %d route(s) included for generation: %s.\n", mode.Display, len(current), strings.Join(current, ","))
		}

		line, err := e.readLine("Enter routes to be included in dataset separated by commas (or press Enter to remove all routes): ")
		if err != nil {
			return err
		}
		line = strings.Join(strings.Fields(line), "") // drop all whitespace
		if line == "" {
			delete(a.conf.Dataset.Routes, name)
			fmt.Println("All routes have been removed from the mode.")
			continue
		}

		var nums []string
		seen := map[string]bool{}
		for _, num := range strings.Split(line, ",") {
			if num != "" && !seen[num] {
				seen[num] = true
				nums = append(nums, num)
			}
		}
		if a.conf.Dataset.Routes == nil {
			a.conf.Dataset.Routes = map[string][]string{}
		}
		a.conf.Dataset.Routes[name] = nums
		fmt.Printf("Added %d route(s) to mode.\n", len(nums))
	}
}

// buildCommand renders the one-shot command equivalent to the edited
// configuration.
func (a *App) buildCommand() string {
	var b strings.Builder

	if config.InContainer() {
		b.WriteString("docker run --privileged --volume /dev:/dev -it pc-companion")
	} else {
		b.WriteString(os.Args[0])
	}

	if a.conf.Verbose {
		b.WriteString(" -v")
	}

	if !(a.actGenerate && a.actUpload) {
		switch {
		case a.actGenerate:
			b.WriteString(" --generate-only")
		case a.actUpload:
			b.WriteString(" --upload-only")
		case a.actListFS:
			b.WriteString(" --list-files")
		case a.actDumpFS:
			b.WriteString(" --dump-files")
		}
	}

	if a.connectsToDevice() {
		fmt.Fprintf(&b, " -d %s -b %d --timeout %d", a.conf.Device.Port, a.conf.Device.Baud, a.conf.Device.Timeout)
		if a.conf.Filesystem.NoFormat {
			b.WriteString(" --no-format")
		} else {
			fmt.Fprintf(&b, " --format-req-timeout %d --format-timeout %d", a.conf.Device.FormatReqTimeout, a.conf.Device.FormatTimeout)
		}
	}

	if a.actGenerate {
		fmt.Fprintf(&b, " -u %s", a.conf.Dataset.URL)
		for _, mode := range ptv.Modes {
			if nums, ok := a.conf.Dataset.Routes[mode.Name]; ok {
				fmt.Fprintf(&b, " -r %s:%s", mode.Name, strings.Join(nums, ","))
			}
		}
	}

	if a.actGenerate || a.actUpload || a.actDumpFS {
		fmt.Fprintf(&b, " --filesystem %s", a.conf.Filesystem.Root)
	}

	return b.String()
}
