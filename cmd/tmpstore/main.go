package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	. "github.com/stevegt/goadapt"

	"github.com/t7a/tmpstore/config"
	"github.com/t7a/tmpstore/internal/logging"
	"github.com/t7a/tmpstore/lister"
	"github.com/t7a/tmpstore/pipe"
	"github.com/t7a/tmpstore/store"
)

const usage = `tmpstore

Usage:
  tmpstore init [-f]
  tmpstore put [<filename>...]
  tmpstore get <hash> [-o <outfile>]
  tmpstore locate <hash>
  tmpstore stat <hash>
  tmpstore ls <dir> [--include=<re>]... [--exclude=<re>]...
  tmpstore run [-s] [--] <cmd> [<arg>...]
  tmpstore clean

Options:
  -h --help       Show this screen.
  --version       Show version.
  -f              Flush existing storage first.
  -o              Write the blob to <outfile> instead of stdout.
  -s              Store the command's stdout and print its hash.
  --include=<re>  List only paths matching <re>.
  --exclude=<re>  Skip paths matching <re>.

Put -- before a command whose arguments start with a dash:
  tmpstore run -- ls -l /tmp

The store lives in $TMPDIR/tmpstore unless tmpstore.yaml or
TMPSTORE_DIR says otherwise.
`

// exit codes other than 0 and the child's own in run
const (
	rcNotFound = 2
	rcUsage    = 22
)

type Opts struct {
	Init     bool
	Put      bool
	Get      bool
	Locate   bool
	Stat     bool
	Ls       bool
	Run      bool
	Clean    bool
	Flush    bool `docopt:"-f"`
	Out      bool `docopt:"-o"`
	Save     bool `docopt:"-s"`
	Filename []string
	Hash     string
	Outfile  string
	Dir      string
	Include  []string `docopt:"--include"`
	Exclude  []string `docopt:"--exclude"`
	Dashes   bool     `docopt:"--"`
	Cmd      string
	Arg      []string
}

func main() {
	// see https://github.com/google/go-cmdtest
	os.Exit(run())
}

func run() int {
	rc, msg := Run()
	if len(msg) > 0 {
		fmt.Fprintln(os.Stderr, msg)
	}
	return rc
}

func Run() (rc int, msg string) {
	defer Halt(&rc, &msg)

	parser := &docopt.Parser{HelpHandler: docopt.PrintHelpOnly}
	o, err := parser.ParseArgs(usage, os.Args[1:], "0.0")
	if err != nil {
		return rcUsage, ""
	}
	var opts Opts
	err = o.Bind(&opts)
	if err != nil {
		return rcUsage, err.Error()
	}

	conf, err := config.Load()
	Ck(err)
	logging.Init(conf.Debug)
	log.Debug(opts)

	switch true {
	case opts.Init:
		s, err := open(conf, opts.Flush)
		Ck(err)
		defer s.Close()
		fmt.Println(s.Dir)
	case opts.Put:
		s, err := open(conf, false)
		Ck(err)
		defer s.Close()
		handles, err := put(s, conf.Concurrency, opts.Filename)
		Ck(err)
		for _, h := range handles {
			fmt.Println(h)
		}
	case opts.Get:
		s, err := open(conf, false)
		Ck(err)
		defer s.Close()
		err = get(s, opts.Hash, opts.Outfile)
		if store.IsNotFound(err) {
			return rcNotFound, err.Error()
		}
		Ck(err)
	case opts.Locate:
		s, err := open(conf, false)
		Ck(err)
		defer s.Close()
		loc, err := s.Location(store.NewHandle(opts.Hash))
		if store.IsNotFound(err) {
			return rcNotFound, err.Error()
		}
		Ck(err)
		fmt.Println(loc)
	case opts.Stat:
		s, err := open(conf, false)
		Ck(err)
		defer s.Close()
		size, err := stat(s, opts.Hash)
		if store.IsNotFound(err) {
			return rcNotFound, err.Error()
		}
		Ck(err)
		fmt.Printf("%s %d\n", opts.Hash, size)
	case opts.Ls:
		l, err := lister.New(opts.Dir, opts.Include, opts.Exclude)
		if err != nil {
			return rcUsage, err.Error()
		}
		urls, err := l.List()
		Ck(err)
		for _, u := range urls {
			fmt.Println(u)
		}
	case opts.Run:
		s, err := open(conf, false)
		Ck(err)
		defer s.Close()
		args, err := cmdline(opts.Cmd, opts.Arg)
		if err != nil {
			return rcUsage, err.Error()
		}
		h, childRc, err := execute(s, opts.Save, args[0], args[1:]...)
		Ck(err)
		if opts.Save {
			fmt.Println(h)
		}
		return childRc, ""
	case opts.Clean:
		err := clean(conf)
		Ck(err)
	}
	return
}

func open(conf *config.Config, flush bool) (s *store.Store, err error) {
	defer Return(&err)
	st := conf.Store()
	st.Flush = st.Flush || flush
	s, err = st.Open()
	Ck(err)
	return
}

// put stores each file, or stdin if there are none, returning the
// handles in argument order.  Up to n files are stored at once.
func put(s *store.Store, n int, fns []string) (handles []store.Handle, err error) {
	if len(fns) == 0 {
		h, err := s.Store(os.Stdin)
		if err != nil {
			return nil, errors.Wrap(err, "stdin")
		}
		return []store.Handle{h}, nil
	}
	handles = make([]store.Handle, len(fns))
	p := pool.New().WithMaxGoroutines(n).WithErrors()
	for i, fn := range fns {
		i, fn := i, fn
		p.Go(func() (err error) {
			fh, err := os.Open(fn)
			if err != nil {
				return
			}
			defer fh.Close()
			handles[i], err = s.Store(fh)
			return errors.Wrap(err, fn)
		})
	}
	err = p.Wait()
	if err != nil {
		return nil, err
	}
	return
}

// create opens the -o output file of get.
var create = func(fn string) (io.WriteCloser, error) {
	return os.Create(fn)
}

func get(s *store.Store, hash, outfile string) (err error) {
	blob, err := s.Load(store.NewHandle(hash))
	if err != nil {
		return
	}
	defer blob.Close()
	if outfile == "" {
		_, err = io.Copy(os.Stdout, blob)
		return
	}
	fh, err := create(outfile)
	if err != nil {
		return
	}
	defer func() {
		cerr := fh.Close()
		if err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "close %s", outfile)
		}
	}()
	_, err = io.Copy(fh, blob)
	return
}

func stat(s *store.Store, hash string) (size int64, err error) {
	blob, err := s.Load(store.NewHandle(hash))
	if err != nil {
		return
	}
	defer blob.Close()
	return blob.Size()
}

// cmdline splits a lone command string the way a shell would, so
// `tmpstore run "ls -l /tmp"` works as well as `tmpstore run -- ls -l /tmp`.
func cmdline(cmd string, args []string) (argv []string, err error) {
	if len(args) > 0 || !strings.ContainsAny(cmd, " \t\n") {
		return append([]string{cmd}, args...), nil
	}
	argv, err = shlex.Split(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "split %q", cmd)
	}
	if len(argv) == 0 {
		return nil, errors.Errorf("empty command %q", cmd)
	}
	return
}

// execute runs name with args, relaying its stderr to ours.  Its stdout
// is relayed too, or stored in s if save is set.  rc is the child's exit
// status.
func execute(s *store.Store, save bool, name string, args ...string) (h store.Handle, rc int, err error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return
	}
	err = cmd.Start()
	if err != nil {
		return
	}
	errPipe := pipe.New(stderr, os.Stderr).Start("stderr")

	var relayErr error
	if save {
		h, relayErr = s.Store(stdout)
		if relayErr != nil {
			// don't leave the child blocked on a full pipe
			cmd.Process.Kill()
		}
	} else {
		relayErr = pipe.New(stdout, os.Stdout).Start("stdout").Wait()
	}
	errPipeErr := errPipe.Wait()

	err = cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		rc, err = exitErr.ExitCode(), nil
	}
	if err != nil {
		return h, rc, errors.Wrapf(err, "run %s", name)
	}
	if relayErr != nil {
		return h, rc, relayErr
	}
	return h, rc, errPipeErr
}

// clean removes the store directory and everything in it.
func clean(conf *config.Config) (err error) {
	defer Return(&err)
	st := conf.Store()
	st.Flush = true
	st.Keep = false
	s, err := st.Open()
	Ck(err)
	err = s.Close()
	Ck(err)
	return
}
