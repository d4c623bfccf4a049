// Command rusbit is the CLI entry point: a single binary exposing the
// bencoding, metainfo/magnet, tracker and download-engine subcommands.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/log"
	"github.com/hokaccha/go-prettyjson"
	"github.com/urfave/cli"

	"github.com/nayiswftw/Rusbit/internal/bencode"
	"github.com/nayiswftw/Rusbit/internal/config"
	"github.com/nayiswftw/Rusbit/internal/engine"
	"github.com/nayiswftw/Rusbit/internal/logger"
	"github.com/nayiswftw/Rusbit/internal/magnet"
	"github.com/nayiswftw/Rusbit/internal/metadata"
	"github.com/nayiswftw/Rusbit/internal/metainfo"
	"github.com/nayiswftw/Rusbit/internal/peerconn"
	"github.com/nayiswftw/Rusbit/internal/peerprotocol"
)

const dialTimeout = 5 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "rusbit"
	app.Usage = "a command-line BitTorrent client"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		cli.BoolFlag{Name: "progress", Usage: "print periodic download progress"},
		cli.StringFlag{Name: "config", Usage: "path to a key=value config file (default rusbit.conf, created if absent)"},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("verbose") {
			logger.SetLevel(log.DEBUG)
		}
		return nil
	}
	app.Commands = []cli.Command{
		decodeCommand,
		infoCommand,
		peersCommand,
		handshakeCommand,
		downloadPieceCommand,
		downloadCommand,
		magnetParseCommand,
		magnetHandshakeCommand,
		magnetInfoCommand,
		magnetDownloadPieceCommand,
		magnetDownloadCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ec, ok := err.(cli.ExitCoder); ok {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.GlobalString("config")
	if path == "" {
		path = "rusbit.conf"
		if err := config.WriteDefault(path); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(path)
}

func printInfo(mi *metainfo.MetaInfo) {
	fmt.Println("Tracker URL:", mi.AnnounceURL)
	fmt.Println("Length:", mi.Info.Length)
	fmt.Println("Piece Length:", mi.Info.PieceLength)
	fmt.Println("Info Hash:", hex.EncodeToString(mi.InfoHash[:]))
	fmt.Println("Piece Hashes:")
	for i := uint32(0); i < mi.Info.NumPieces; i++ {
		fmt.Println(hex.EncodeToString(mi.Info.PieceHash(i)))
	}
}

var decodeCommand = cli.Command{
	Name:      "decode",
	Usage:     "decode a bencoded value and print it",
	ArgsUsage: "<bencoded-string>",
	Action: func(c *cli.Context) error {
		arg := c.Args().First()
		if arg == "" {
			return cli.NewExitError("decode: missing bencoded string", 2)
		}
		v, err := bencode.DecodeAll([]byte(arg))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		out, err := prettyjson.Marshal(bencode.ToDisplay(v))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		fmt.Println(string(out))
		return nil
	},
}

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "print a torrent's tracker URL, length and piece hashes",
	ArgsUsage: "<torrent-file>",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return cli.NewExitError("info: missing torrent file", 2)
		}
		mi, err := metainfo.ReadFile(path)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		printInfo(mi)
		return nil
	},
}

var peersCommand = cli.Command{
	Name:      "peers",
	Usage:     "announce to the tracker and print its peer list",
	ArgsUsage: "<torrent-file>",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return cli.NewExitError("peers: missing torrent file", 2)
		}
		mi, err := metainfo.ReadFile(path)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		pid, err := engine.NewPeerID(cfg)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		resp, err := engine.Announce(context.Background(), []string{mi.AnnounceURL}, mi.InfoHash, pid, cfg.ListenPort, mi.Info.Length, logger.New("peers"))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		for _, addr := range resp.Peers {
			fmt.Println(addr.String())
		}
		return nil
	},
}

var handshakeCommand = cli.Command{
	Name:      "handshake",
	Usage:     "perform the peer handshake and print the peer's id",
	ArgsUsage: "<torrent-file> <ip:port>",
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return cli.NewExitError("handshake: requires a torrent file and ip:port", 2)
		}
		mi, err := metainfo.ReadFile(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		addr, err := net.ResolveTCPAddr("tcp", c.Args().Get(1))
		if err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		pid, err := engine.NewPeerID(cfg)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		conn, err := peerconn.Dial(addr, mi.InfoHash, pid, dialTimeout, 0, logger.New("handshake"))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer conn.Close()
		fmt.Println("Peer ID:", hex.EncodeToString(conn.PeerID[:]))
		return nil
	},
}

var downloadPieceCommand = cli.Command{
	Name:      "download-piece",
	Usage:     "download a single piece to a file",
	ArgsUsage: "-o <output-file> <torrent-file> <piece-index>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "o", Usage: "output file path"},
	},
	Action: func(c *cli.Context) error {
		out := c.String("o")
		if out == "" {
			return cli.NewExitError("download-piece: -o is required", 2)
		}
		if c.NArg() < 2 {
			return cli.NewExitError("download-piece: requires a torrent file and piece index", 2)
		}
		idx, err := strconv.Atoi(c.Args().Get(1))
		if err != nil || idx < 0 {
			return cli.NewExitError("download-piece: invalid piece index", 2)
		}
		mi, err := metainfo.ReadFile(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if err := engine.DownloadPiece(context.Background(), mi, out, uint32(idx), cfg, c.GlobalBool("progress")); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	},
}

var downloadCommand = cli.Command{
	Name:      "download",
	Usage:     "download the whole file described by a torrent",
	ArgsUsage: "-o <output-file> <torrent-file>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "o", Usage: "output file path"},
	},
	Action: func(c *cli.Context) error {
		out := c.String("o")
		if out == "" {
			return cli.NewExitError("download: -o is required", 2)
		}
		path := c.Args().First()
		if path == "" {
			return cli.NewExitError("download: missing torrent file", 2)
		}
		mi, err := metainfo.ReadFile(path)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if err := engine.Download(context.Background(), mi, out, cfg, c.GlobalBool("progress")); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	},
}

var magnetParseCommand = cli.Command{
	Name:      "magnet-parse",
	Usage:     "parse a magnet URI and print its tracker and infohash",
	ArgsUsage: "<magnet-uri>",
	Action: func(c *cli.Context) error {
		uri := c.Args().First()
		if uri == "" {
			return cli.NewExitError("magnet-parse: missing magnet uri", 2)
		}
		link, err := magnet.Parse(uri)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if len(link.Trackers) > 0 {
			fmt.Println("Tracker URL:", link.Trackers[0])
		}
		fmt.Println("Info Hash:", link.InfoHashHex())
		return nil
	},
}

var magnetHandshakeCommand = cli.Command{
	Name:      "magnet-handshake",
	Usage:     "handshake with a peer found via a magnet link's trackers",
	ArgsUsage: "<magnet-uri>",
	Action: func(c *cli.Context) error {
		uri := c.Args().First()
		if uri == "" {
			return cli.NewExitError("magnet-handshake: missing magnet uri", 2)
		}
		link, err := magnet.Parse(uri)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		pid, err := engine.NewPeerID(cfg)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		log := logger.New("magnet-handshake")
		resp, err := engine.Announce(context.Background(), link.Trackers, link.InfoHash, pid, cfg.ListenPort, 0, log)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if len(resp.Peers) == 0 {
			return cli.NewExitError("magnet-handshake: tracker returned no peers", 1)
		}
		conn, err := peerconn.Dial(resp.Peers[0], link.InfoHash, pid, dialTimeout, 0, log)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer conn.Close()
		fmt.Println("Peer ID:", hex.EncodeToString(conn.PeerID[:]))
		if conn.SupportsExtensions {
			hs, err := metadata.AwaitExtensionHandshake(conn, 10*time.Second)
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			if id, ok := hs.M[peerprotocol.ExtensionKeyMetadata]; ok {
				fmt.Println("Peer Metadata Extension ID:", id)
			}
		}
		return nil
	},
}

var magnetInfoCommand = cli.Command{
	Name:      "magnet-info",
	Usage:     "fetch a torrent's metadata over ut_metadata and print it",
	ArgsUsage: "<magnet-uri>",
	Action: func(c *cli.Context) error {
		uri := c.Args().First()
		if uri == "" {
			return cli.NewExitError("magnet-info: missing magnet uri", 2)
		}
		link, err := magnet.Parse(uri)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		mi, err := engine.ResolveMagnet(context.Background(), link, cfg, logger.New("magnet-info"))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		printInfo(mi)
		return nil
	},
}

var magnetDownloadPieceCommand = cli.Command{
	Name:      "magnet-download-piece",
	Usage:     "fetch metadata from a magnet link, then download one piece",
	ArgsUsage: "-o <output-file> <magnet-uri> <piece-index>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "o", Usage: "output file path"},
	},
	Action: func(c *cli.Context) error {
		out := c.String("o")
		if out == "" {
			return cli.NewExitError("magnet-download-piece: -o is required", 2)
		}
		if c.NArg() < 2 {
			return cli.NewExitError("magnet-download-piece: requires a magnet uri and piece index", 2)
		}
		idx, err := strconv.Atoi(c.Args().Get(1))
		if err != nil || idx < 0 {
			return cli.NewExitError("magnet-download-piece: invalid piece index", 2)
		}
		link, err := magnet.Parse(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		mi, err := engine.ResolveMagnet(context.Background(), link, cfg, logger.New("magnet-download-piece"))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if err := engine.DownloadPiece(context.Background(), mi, out, uint32(idx), cfg, c.GlobalBool("progress")); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	},
}

var magnetDownloadCommand = cli.Command{
	Name:      "magnet-download",
	Usage:     "fetch metadata from a magnet link, then download the file",
	ArgsUsage: "-o <output-file> <magnet-uri>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "o", Usage: "output file path"},
	},
	Action: func(c *cli.Context) error {
		out := c.String("o")
		if out == "" {
			return cli.NewExitError("magnet-download: -o is required", 2)
		}
		uri := c.Args().First()
		if uri == "" {
			return cli.NewExitError("magnet-download: missing magnet uri", 2)
		}
		link, err := magnet.Parse(uri)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		mi, err := engine.ResolveMagnet(context.Background(), link, cfg, logger.New("magnet-download"))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if err := engine.Download(context.Background(), mi, out, cfg, c.GlobalBool("progress")); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	},
}
