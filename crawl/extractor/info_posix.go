package extractor

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	goeval "github.com/edisonguo/govaluate"
)

// DefaultPattern keeps descending into directories and selects scene
// metadata documents.
const DefaultPattern = `type == 'd' || name =~ '[.](ya?ml|json)$'`

const DefaultMaxPosixErrors = 1000

func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": {}, "name": {}, "type": {}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are path, name and type", varName)
			}
		}
	}
	return expr, nil
}

// PosixCrawler walks a directory tree with bounded concurrency and hands
// every matching regular file to a single consumer.
type PosixCrawler struct {
	Outputs       chan string
	Error         chan error
	wg            sync.WaitGroup
	concLimit     chan struct{}
	outputDone    chan struct{}
	pattern       *goeval.EvaluableExpression
	followSymlink bool
}

func NewPosixCrawler(conc int, pattern string, followSymlink bool) (*PosixCrawler, error) {
	expr, err := parsePatternExpression(pattern)
	if err != nil {
		return nil, err
	}
	if conc < 1 {
		conc = 1
	}
	return &PosixCrawler{
		Outputs:       make(chan string, 4096),
		Error:         make(chan error, 100),
		concLimit:     make(chan struct{}, conc),
		outputDone:    make(chan struct{}, 1),
		pattern:       expr,
		followSymlink: followSymlink,
	}, nil
}

// Crawl blocks until the tree under rootDir is exhausted. handle runs on
// one goroutine; its errors are reported alongside the walk errors.
func (pc *PosixCrawler) Crawl(rootDir string, handle func(filePath string) error) error {
	absRootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return err
	}

	go pc.outputResult(handle)

	pc.wg.Add(1)
	pc.concLimit <- struct{}{}
	pc.crawlDir(absRootDir, false)
	pc.wg.Wait()

	close(pc.Outputs)
	<-pc.outputDone

	close(pc.Error)
	var errors []string
	errCount := 0
	for err := range pc.Error {
		errors = append(errors, err.Error())
		errCount++
		if errCount >= DefaultMaxPosixErrors {
			errors = append(errors, " ... too many errors")
			break
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "\n"))
	}
	return nil
}

func (pc *PosixCrawler) reportError(err error) {
	select {
	case pc.Error <- err:
	default:
	}
}

func (pc *PosixCrawler) crawlDir(currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}

	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.reportError(fmt.Errorf("could not read dir %s: %v", currPath, err))
		return
	}

	for _, entry := range entries {
		filePath := path.Join(currPath, entry.Name())
		fileMode := entry.Type()

		if fileMode&os.ModeSymlink != 0 {
			if !pc.followSymlink {
				continue
			}
			fStat, err := os.Stat(filePath)
			if err != nil {
				pc.reportError(err)
				continue
			}
			fileMode = fStat.Mode().Type()
		}

		isDir := fileMode.IsDir()
		if !isDir && !fileMode.IsRegular() {
			continue
		}

		if pc.pattern != nil {
			result, err := pc.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.reportError(err)
				continue
			}
			if !result {
				continue
			}
		}

		if isDir {
			pc.wg.Add(1)
			select {
			case pc.concLimit <- struct{}{}:
				go func(p string) {
					pc.crawlDir(p, false)
				}(filePath)
			default:
				pc.crawlDir(filePath, true)
			}
			continue
		}

		pc.Outputs <- filePath
	}
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	parameters := map[string]interface{}{"type": fileType, "path": filePath, "name": path.Base(filePath)}
	result, err := pc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}

func (pc *PosixCrawler) outputResult(handle func(string) error) {
	for filePath := range pc.Outputs {
		if err := handle(filePath); err != nil {
			pc.reportError(fmt.Errorf("%s: %v", filePath, err))
		}
	}
	pc.outputDone <- struct{}{}
}
