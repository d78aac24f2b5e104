package console

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/edaniels/framegrab/resource"
)

// Options are the answers to the configuration questions.
type Options struct {
	ServerName    string
	ResourceIndex int
	ConfigPath    string
}

// AskOptions lists the servers of dir and asks which server, resource index and
// configuration file to use. An empty answer to the index question selects 0.
func (c *Console) AskOptions(ctx context.Context, dir resource.Directory) (Options, error) {
	servers := dir.Servers()
	if len(servers) == 0 {
		return Options{}, errors.New("no acquisition servers found")
	}
	c.Println("Available servers:")
	for i, server := range servers {
		acq, err := dir.ResourceCount(server, resource.Acquisition)
		if err != nil {
			return Options{}, err
		}
		dev, err := dir.ResourceCount(server, resource.AcqDevice)
		if err != nil {
			return Options{}, err
		}
		c.Printf("%d: %s (%d %s, %d %s)\n", i+1, server, acq, resource.Acquisition, dev, resource.AcqDevice)
	}

	var opts Options
	for opts.ServerName == "" {
		c.Println("Select a server by number or name:")
		answer, err := c.ReadLine(ctx)
		if err != nil {
			return Options{}, err
		}
		answer = strings.TrimSpace(answer)
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(servers) {
			opts.ServerName = servers[n-1]
			continue
		}
		for _, server := range servers {
			if server == answer {
				opts.ServerName = server
			}
		}
		if opts.ServerName == "" {
			c.Println("Invalid server:", answer)
		}
	}

	for {
		c.Println("Select a resource index [0]:")
		answer, err := c.ReadLine(ctx)
		if err != nil {
			return Options{}, err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			break
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 0 {
			opts.ResourceIndex = n
			break
		}
		c.Println("Invalid index:", answer)
	}

	for opts.ConfigPath == "" {
		c.Println("Enter the configuration file path:")
		answer, err := c.ReadLine(ctx)
		if err != nil {
			return Options{}, err
		}
		opts.ConfigPath = strings.TrimSpace(answer)
	}
	return opts, nil
}
