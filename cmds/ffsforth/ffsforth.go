// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ffsforth is a forth-inspired interface to the image editing engine.
// The first words can be given in argv; the rest are read from stdin.
// Paths are node paths as printed by tree.
//
//	$ ffsforth image.rom open
//	[413]OK Shell ix
//	[[/1/4 /2/0/0/12]]OK drop /1/4 rm
//	[removed 1]OK /1/5/0 LZMA compress
//	[/1/5/0 LZMA]OK new.rom save
//	[new.rom]OK
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/u-root/u-root/pkg/forth"

	"github.com/linuxboot/ffsengine/pkg/compression"
	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/log"
	"github.com/linuxboot/ffsengine/pkg/uefi"
	"github.com/linuxboot/ffsengine/pkg/visitors"
)

type cmd struct {
	c string
	h string
	f forth.Op
}

var (
	// The open editing session.
	sess  *engine.Engine
	words []cmd
	out   io.Writer = os.Stdout
)

func init() {
	words = []cmd{
		{"open", "Open the image named by TOS[0]; pushes the number of files", open},
		{"ix", "Push the paths of the files whose path:GUID:type:name matches the RE at TOS[0]", ix},
		{"tree", "Print the layout tree", tree},
		{"rm", "Remove the node at the path, or the []string of paths, at TOS[0]", rm},
		{"compress", "Compress the section at path TOS[1] with the algorithm TOS[0]", compress},
		{"extract", "Write the body of the node at path TOS[1] to the file TOS[0]", extract},
		{"save", "Write the image to the file named by TOS[0]", save},
		{"diag", "Push the diagnostics of the session as a []string", diag},
		{"run", "Run the ffsdump operation on the stack, e.g. 'Shell find run'", run},
		{"splat", "Replace files named .*Shell.* with the PE32 file at TOS[0]", splat},
		{"drop", "Drop TOS[0]", drop},
		{"help", "Print a help message", help},
	}
}

func help(f forth.Forth) {
	for _, c := range words {
		fmt.Fprintf(out, "%s: %s\n", c.c, c.h)
	}
}

func drop(f forth.Forth) {
	if !f.Empty() {
		f.Pop()
	}
}

func session() *engine.Engine {
	if sess == nil {
		panic("no image is open")
	}
	return sess
}

func path(s string) layout.Path {
	p, err := layout.ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func open(f forth.Forth) {
	n := forth.String(f)
	image, err := os.ReadFile(n)
	if err != nil {
		panic(err)
	}
	sess = engine.Open(image, engine.Options{})
	for _, r := range sess.Diagnostics().Filter(layout.SeverityError) {
		log.Errorf("%v", r)
	}
	files := describe(sess.Model().Root())
	log.Infof("Found %d files", len(files))
	f.Push(len(files))
}

// describe returns "path:GUID:type:name" for every file below n.
func describe(n *layout.Node) map[string]string {
	files := map[string]string{}
	n.Walk(func(c *layout.Node) bool {
		if c.Kind.IsFile() {
			p := c.Path().String()
			files[p] = fmt.Sprintf("%v:%v:%v:%v", p, c.GUID, uefi.FVFileType(c.Subtype), c.Attributes.Name)
		}
		return true
	})
	return files
}

func ix(f forth.Forth) {
	r := ".*"
	if len(f.Stack()) > 0 {
		r = forth.String(f)
	}
	re := regexp.MustCompile(r)
	var res []string
	// Pre-order, so a later rm can take them back to front.
	session().Model().Root().Walk(func(c *layout.Node) bool {
		if !c.Kind.IsFile() {
			return true
		}
		if re.MatchString(describe(c)[c.Path().String()]) {
			res = append(res, c.Path().String())
		}
		return true
	})
	f.Push(res)
}

func tree(f forth.Forth) {
	t := &visitors.Table{W: out}
	if err := t.Run(session().Model().Root()); err != nil {
		panic(err)
	}
}

func rm(f forth.Forth) {
	var args []string
	switch v := f.Pop().(type) {
	case string:
		args = []string{v}
	case []string:
		args = v
	default:
		panic(fmt.Sprintf("rm: want a path or []string, got %T", v))
	}
	var paths []layout.Path
	for _, a := range args {
		paths = append(paths, path(a))
	}
	// Back to front, so the remaining paths stay valid.
	sort.Slice(paths, func(i, j int) bool { return paths[j].Before(paths[i]) })
	e := session()
	for _, p := range paths {
		if err := e.Remove(p); err != nil {
			panic(err)
		}
	}
	f.Push(fmt.Sprintf("removed %d", len(paths)))
}

func compress(f forth.Forth) {
	name := forth.String(f)
	p := path(forth.String(f))
	alg, err := compression.ParseAlgorithm(name)
	if err != nil {
		panic(err)
	}
	if err := session().ChangeCompression(p, alg); err != nil {
		panic(err)
	}
	f.Push(p.String())
	f.Push(alg.String())
}

func extract(f forth.Forth) {
	file := forth.String(f)
	p := path(forth.String(f))
	b, err := session().Extract(p, engine.ExtractBodyOnly)
	if err != nil {
		panic(err)
	}
	if err := os.WriteFile(file, b, 0o644); err != nil {
		panic(err)
	}
	f.Push(file)
}

func save(f forth.Forth) {
	n := forth.String(f)
	var b bytes.Buffer
	if err := session().Save(&b); err != nil {
		panic(err)
	}
	if err := os.WriteFile(n, b.Bytes(), 0o644); err != nil {
		panic(err)
	}
	f.Push(n)
}

func diag(f forth.Forth) {
	var res []string
	for _, r := range session().Diagnostics().Records() {
		res = append(res, r.String())
	}
	f.Push(res)
}

func runit(args ...string) string {
	ret := fmt.Sprintf("Run %v", args)
	e := session()
	v, err := visitors.ParseCLI(e, args)
	if err != nil {
		panic(fmt.Sprintf("%v: %v", ret, err))
	}
	if err := visitors.ExecuteCLI(e, v); err != nil {
		panic(fmt.Sprintf("%v: %v", ret, err))
	}
	return ret
}

// Just run a command in the ffsdump "cli"
func run(f forth.Forth) {
	var args []string
	for _, a := range f.Stack() {
		args = append(args, fmt.Sprint(a))
	}
	f.Reset()
	f.Push(runit(args...))
}

// You can call run to do this; we keep it separate because
// it's a bit more convenient
func splat(f forth.Forth) {
	kern := forth.String(f)
	f.Push(runit("replace_pe32", ".*Shell.*", kern))
}

func newForth() forth.Forth {
	f := forth.New()
	for _, c := range words {
		f.Newop(c.c, c.f)
	}
	return f
}

func main() {
	f := newForth()
	var b = make([]byte, 512)
	flag.Parse()
	// first process the args
	s, err := forth.Eval(f, strings.Join(flag.Args(), " "))
	if err != nil {
		log.Errorf("%v", err)
	} else {
		f.Push(s)
	}
	for {
		fmt.Printf("%v", f.Stack())
		fmt.Print("OK ")
		n, err := os.Stdin.Read(b)
		if err != nil {
			if err != io.EOF {
				log.Fatalf("%v", err)
			}
			// Silently exit on EOF. It's the unix way.
			break
		}
		s, err := forth.Eval(f, string(b[:n]))
		if err != nil {
			fmt.Printf("%v\n", err)
		}
		if err == nil {
			f.Push(s)
		}
	}
}
