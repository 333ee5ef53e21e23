// Command ext2shell is a small CLI for poking at an ext2 image through
// the vfs package, grounded on original_source/src/ext2sh.c's verb set.
// It has the subcommands stat, ls, ll, tree, cat, touch, hello and trunc;
// the cd and setcwd verbs have no subcommand.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alnyan/fs-playground/backend/file"
	"github.com/alnyan/fs-playground/filesystem/ext2"
	"github.com/alnyan/fs-playground/vfs"
)

var imagePath string

func openVFS(readOnly bool) (*vfs.VFS, *ext2.FS, error) {
	bd, err := file.OpenFromPath(imagePath, readOnly)
	if err != nil {
		return nil, nil, err
	}
	fs, err := ext2.Mount(bd)
	if err != nil {
		return nil, nil, err
	}
	v, err := vfs.New(fs)
	if err != nil {
		return nil, nil, err
	}
	return v, fs, nil
}

func dumpStat(st vfs.StatInfo) string {
	t := byte('-')
	if st.Type == vfs.TypeDirectory {
		t = 'd'
	} else if st.Type == vfs.TypeSymlink {
		t = 'l'
	}
	perm := func(bit uint32, ch byte) byte {
		if st.Mode&bit != 0 {
			return ch
		}
		return '-'
	}
	return fmt.Sprintf("%c%c%c%c%c%c%c%c%c%c % 5d % 5d %d %d",
		t,
		perm(0400, 'r'), perm(0200, 'w'), perm(0100, 'x'),
		perm(040, 'r'), perm(020, 'w'), perm(010, 'x'),
		perm(04, 'r'), perm(02, 'w'), perm(01, 'x'),
		st.UID, st.GID, st.Size, st.Ino)
}

func runStat(cmd *cobra.Command, args []string) error {
	v, fs, err := openVFS(true)
	if err != nil {
		return err
	}
	defer fs.Close()
	st, err := v.Stat(v.RootIOContext(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", dumpStat(st), args[0])
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	v, fs, err := openVFS(true)
	if err != nil {
		return err
	}
	defer fs.Close()
	vfs.DumpTree(os.Stdout, v.DumpTreeRoot())
	return nil
}

func runLs(detail bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		v, fs, err := openVFS(true)
		if err != nil {
			return err
		}
		defer fs.Close()
		ioc := v.RootIOContext()
		h, err := v.Open(ioc, args[0], vfs.ODirectory|vfs.ORdOnly, 0)
		if err != nil {
			return err
		}
		defer v.Close(h)
		for {
			ent, err := v.Readdir(h)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if !detail {
				fmt.Printf("dirent %s\n", ent.Name)
				continue
			}
			if len(ent.Name) > 0 && ent.Name[0] == '.' {
				continue
			}
			childPath := args[0] + "/" + ent.Name
			st, err := v.Stat(ioc, childPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", dumpStat(st), ent.Name)
		}
		return nil
	}
}

func runCat(cmd *cobra.Command, args []string) error {
	v, fs, err := openVFS(true)
	if err != nil {
		return err
	}
	defer fs.Close()
	ioc := v.RootIOContext()
	h, err := v.Open(ioc, args[0], vfs.ORdOnly, 0)
	if err != nil {
		return err
	}
	defer v.Close(h)
	buf := make([]byte, 512)
	total := 0
	for {
		n, err := v.Read(h, buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
			total += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	fmt.Printf("\n%dB total\n", total)
	return nil
}

func runTouch(cmd *cobra.Command, args []string) error {
	v, fs, err := openVFS(false)
	if err != nil {
		return err
	}
	defer fs.Close()
	h, err := v.Creat(v.RootIOContext(), args[0], 0644, vfs.ORdWr)
	if err != nil {
		return err
	}
	return v.Close(h)
}

func runHello(cmd *cobra.Command, args []string) error {
	v, fs, err := openVFS(false)
	if err != nil {
		return err
	}
	defer fs.Close()
	fmt.Print("= ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	h, err := v.Open(v.RootIOContext(), args[0], vfs.OCreat|vfs.OWrOnly, 0644)
	if err != nil {
		return err
	}
	defer v.Close(h)
	_, err = v.Write(h, []byte(line))
	return err
}

func runTrunc(cmd *cobra.Command, args []string) error {
	v, fs, err := openVFS(false)
	if err != nil {
		return err
	}
	defer fs.Close()
	h, err := v.Open(v.RootIOContext(), args[0], vfs.OWrOnly, 0644)
	if err != nil {
		return err
	}
	defer v.Close(h)
	return v.Truncate(h, 0)
}

func main() {
	root := &cobra.Command{
		Use:   "ext2shell",
		Short: "poke at an ext2 image through the vfs layer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if imagePath == "" {
				return fmt.Errorf("--image is required")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&imagePath, "image", "", "path to the ext2 image file")

	statCmd := &cobra.Command{Use: "stat <path>", Args: cobra.ExactArgs(1), RunE: runStat}
	treeCmd := &cobra.Command{Use: "tree", Args: cobra.NoArgs, RunE: runTree}
	lsCmd := &cobra.Command{Use: "ls <path>", Args: cobra.ExactArgs(1), RunE: runLs(false)}
	llCmd := &cobra.Command{Use: "ll <path>", Args: cobra.ExactArgs(1), RunE: runLs(true)}
	catCmd := &cobra.Command{Use: "cat <path>", Args: cobra.ExactArgs(1), RunE: runCat}
	touchCmd := &cobra.Command{Use: "touch <path>", Args: cobra.ExactArgs(1), RunE: runTouch}
	helloCmd := &cobra.Command{Use: "hello <path>", Args: cobra.ExactArgs(1), RunE: runHello}
	truncCmd := &cobra.Command{Use: "trunc <path>", Args: cobra.ExactArgs(1), RunE: runTrunc}

	root.AddCommand(statCmd, treeCmd, lsCmd, llCmd, catCmd, touchCmd, helloCmd, truncCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ext2shell:", err)
		os.Exit(1)
	}
}
