package gfxgen

import (
	"fmt"
	"io"
	"os"
)

// PrintUsage prints a short usage line to stdout.
func PrintUsage() {
	fprintUsage(os.Stdout)
}

func fprintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: gfxgen [-root dir] [-editor cmd] [-library name,...] [-verify] [-q|-v]")
	fmt.Fprintln(w, "use -h for help")
}

// PrintHelp prints the full help text to stdout.
func PrintHelp() {
	fprintHelp(os.Stdout)
}

func fprintHelp(w io.Writer) {
	fmt.Fprintf(w, "gfxgen %s\n\n", Version)
	fprintUsage(w)
	fmt.Fprintf(w, `
gfxgen prepares the expression graphics below the graphics root:

  <root>/%s                       library configuration, [Libraries] Name = true|false
  <root>/%s/<Library>/<Expression>/
    %s                            playback descriptor, generated when missing
    *.aseprite, *.ase                          animation source
    %s/Frame_NN%s                         packed frames, 1 bit per pixel

For every enabled library the missing library directories are created and
every expression gets a default descriptor. Animation sources are exported
with Aseprite, the frames are packed column by column, 8 rows per byte with
the top row in the least significant bit, and the frame size and rate are
written back to the descriptor.

Aseprite is searched in the usual install locations, use -editor or the
GFXGEN_EDITOR environment variable to point elsewhere, e.g.
  -editor "flatpak run com.aseprite.Aseprite"
Without an editor only the directories and descriptors are maintained.

flags:
  -r, -root dir          graphics root (default %q)
  -e, -editor cmd        editor command line
  -f, -format ext        intermediate frame format, png or bmp (default png)
  -t, -threshold n       luminance above n lights a pixel (default 0)
  -l, -library a,b       only process these libraries
  -export-timeout d      timeout per export (default %v)
  -metadata-timeout d    timeout for reading frame timing (default %v)
  -verify                check existing artifacts against their descriptors, export nothing
  -q, -quiet             only warnings and errors
  -v, -verbose           debug output
  -cpuprofile file       write cpu profile to file
  -h, -help              this help
`, LibraryConfigFile, LibrariesDir, DescriptorFile, FramesDir, ArtifactExt, DefaultRoot, DefaultExportTimeout, DefaultMetadataTimeout)
}
