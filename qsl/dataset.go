package qsl

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LoadImageDataset builds a corpus from a directory of encoded images
// and a label map file. Each non-empty line of the label map names one
// image file and its ground-truth class:
//
//	ILSVRC2012_val_00000001.JPEG 65
//
// Corpus indices follow the label map's line order, so they are stable
// across runs as long as the map does not change.
func LoadImageDataset(dir, labelMap string) ([]Sample, error) {
	f, err := os.Open(labelMap)
	if err != nil {
		return nil, errors.Wrap(err, "opening label map")
	}
	defer f.Close()

	var corpus []Sample
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Errorf("malformed label map line %q", line)
		}

		label, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "parsing label for %s", fields[0])
		}

		data, err := os.ReadFile(filepath.Join(dir, fields[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "reading sample %s", fields[0])
		}

		corpus = append(corpus, NewSample(len(corpus), label, data))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading label map")
	}
	if len(corpus) == 0 {
		return nil, errors.Errorf("no samples listed in %s", labelMap)
	}

	return corpus, nil
}
